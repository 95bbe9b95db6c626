package main

import (
	"encoding/json"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/sebastianknopf/avl2gtfsrt/app/gtfsrt-publisher/publisher"
	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/gtfsrt"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/database"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFSRT_PUBLISHER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args            conf.Args
		OrganisationId  string `conf:"required"`
		ServerTimezone  string `conf:"default:Europe/Berlin"`
		PublisherConfig string `conf:"required,noprint"`
		DB              struct {
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
		NATS struct {
			URL string `conf:"default:nats://localhost:4222"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Publish differential GTFS-Realtime feeds on vehicle events"
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

	publisherConfig := publisher.Config{}
	if err = json.Unmarshal([]byte(cfg.PublisherConfig), &publisherConfig); err != nil {
		return fmt.Errorf("parsing publisher config: %w", err)
	}

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

	pub, err := publisher.NewPublisher(log, assembler, publisherConfig, cfg.OrganisationId)
	if err != nil {
		return err
	}
	if err = pub.Start(); err != nil {
		return err
	}
	defer pub.Stop()

	log.Printf("main: Connecting to nats at %s", cfg.NATS.URL)
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsConnection.Close()

	sub, err := events.Subscribe(log, natsConnection, events.DefaultSubject, pub.OnEvent)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("main: error unsubscribing from nats: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
	log.Printf("main: shutting down on signal")
	return nil
}
