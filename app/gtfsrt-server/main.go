package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"

	"github.com/sebastianknopf/avl2gtfsrt/app/gtfsrt-server/feedserver"
	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/gtfsrt"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFSRT_SERVER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args           conf.Args
		ServerTimezone string `conf:"default:Europe/Berlin"`
		HTTP           struct {
			Port int `conf:"default:9000"`
		}
		DB struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Matching struct {
			DataReviewSeconds int `conf:"default:120"`
			MaxDataPoints     int `conf:"default:60"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Serve GTFS-Realtime feeds built from AVL tracking state"
	const prefix = "A2G"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	location, err := time.LoadLocation(cfg.ServerTimezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.ServerTimezone, err)
	}

	log.Println("main: Initializing database support")
	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	if err = database.Bootstrap(db); err != nil {
		return err
	}
	storage := avl.NewStore(db, cfg.Matching.DataReviewSeconds, cfg.Matching.MaxDataPoints)
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := storage.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	assembler := gtfsrt.NewAssembler(log, storage, location)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	shutdownSignal := make(chan bool)
	wg := sync.WaitGroup{}
	go feedserver.RunWebService(log, &wg, assembler, cfg.HTTP.Port, shutdownSignal)

	<-shutdown
	close(shutdownSignal)
	wg.Wait()
	return nil
}
