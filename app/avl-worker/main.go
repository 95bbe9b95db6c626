package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/sebastianknopf/avl2gtfsrt/app/avl-worker/worker"
	"github.com/sebastianknopf/avl2gtfsrt/business/data/avl"
	"github.com/sebastianknopf/avl2gtfsrt/business/iom"
	"github.com/sebastianknopf/avl2gtfsrt/business/nominal"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/database"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/events"
	"github.com/sebastianknopf/avl2gtfsrt/foundation/operatingday"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "AVL_WORKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args           conf.Args
		InstanceId     string `conf:"default:avl-worker"`
		OrganisationId string `conf:"required"`
		ItcsId         string `conf:"required"`
		Timezone       string `conf:"default:Europe/Berlin"`
		Storage        struct {
			Type string `conf:"default:postgres"`
		}
		DB struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Matching struct {
			MaxInterval       int `conf:"default:5"`
			MaxFailures       int `conf:"default:5"`
			DataReviewSeconds int `conf:"default:120"`
			MaxDataPoints     int `conf:"default:60"`
		}
		ShapeFilter struct {
			Enabled        bool    `conf:"default:false"`
			DistanceMeters float64 `conf:"default:50"`
		}
		OperatingDayEnd string `conf:"default:27:00:00"`
		Nominal         struct {
			AdapterType   string `conf:"default:otp"`
			AdapterConfig string `conf:"noprint"`
		}
		MQTT struct {
			Host     string `conf:"required"`
			Port     int    `conf:"default:1883"`
			Username string
			Password string `conf:"noprint"`
		}
		NATS struct {
			URL string `conf:"default:nats://localhost:4222"`
		}
		Worker struct {
			Count int `conf:"default:10"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Match AVL position data onto nominal trips"
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

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Timezone, err)
	}
	operatingDayEndSeconds, err := operatingday.ParseSeconds(cfg.OperatingDayEnd)
	if err != nil {
		return fmt.Errorf("parsing operating day end: %w", err)
	}

	// =========================================================================
	// Start Storage

	var storage avl.Storage
	switch cfg.Storage.Type {
	case "postgres":
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
		storage = avl.NewStore(db, cfg.Matching.DataReviewSeconds, cfg.Matching.MaxDataPoints)
	case "memory":
		storage = avl.NewMemoryStore(cfg.Matching.DataReviewSeconds, cfg.Matching.MaxDataPoints)
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	defer func() {
		log.Printf("main: Storage Stopping")
		if err := storage.Close(); err != nil {
			log.Printf("main: error closing storage: %v", err)
		}
	}()

	// =========================================================================
	// Start NATS event stream

	log.Printf("main: Connecting to nats at %s", cfg.NATS.URL)
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsConnection.Close()
	eventsPublisher := events.NewPublisher(log, natsConnection, events.DefaultSubject)

	// =========================================================================
	// Schedule source

	nominalClient, err := nominal.NewClient(log, cfg.Nominal.AdapterType, cfg.Nominal.AdapterConfig,
		nominal.AdapterSettings{
			Location:               location,
			OperatingDayEndSeconds: operatingDayEndSeconds,
			Calendar:               operatingday.NewCalendar(),
		})
	if err != nil {
		return fmt.Errorf("creating nominal client: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return worker.Run(log, storage, nominalClient, eventsPublisher,
		iom.Config{
			Host:           cfg.MQTT.Host,
			Port:           cfg.MQTT.Port,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			InstanceId:     cfg.InstanceId,
			OrganisationId: cfg.OrganisationId,
			ItcsId:         cfg.ItcsId,
		},
		worker.Settings{
			MatchingMaxInterval: cfg.Matching.MaxInterval,
			MatchingMaxFailures: cfg.Matching.MaxFailures,
			ShapeFilterEnabled:  cfg.ShapeFilter.Enabled,
			ShapeFilterDistance: cfg.ShapeFilter.DistanceMeters,
		},
		cfg.Worker.Count, shutdown)
}
