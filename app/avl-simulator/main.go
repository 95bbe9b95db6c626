// The avl-simulator plays a vehicle device: it logs a vehicle on, replays
// position samples along an encoded polyline and logs off again. Useful for
// exercising a running avl-worker without real hardware.
package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/twpayne/go-polyline"

	"github.com/sebastianknopf/avl2gtfsrt/business/iom"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "AVL_SIMULATOR : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args           conf.Args
		InstanceId     string `conf:"default:avl-simulator"`
		OrganisationId string `conf:"required"`
		ItcsId         string `conf:"required"`
		Simulator      struct {
			VehicleRef      string `conf:"required"`
			Polyline        string `conf:"required"`
			IntervalSeconds int    `conf:"default:10"`
			Loop            bool   `conf:"default:false"`
		}
		MQTT struct {
			Host     string `conf:"required"`
			Port     int    `conf:"default:1883"`
			Username string
			Password string `conf:"noprint"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Replay AVL position data for a simulated vehicle"
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

	coords, _, err := polyline.DecodeCoords([]byte(cfg.Simulator.Polyline))
	if err != nil {
		return fmt.Errorf("decoding polyline: %w", err)
	}
	if len(coords) < 2 {
		return fmt.Errorf("polyline contains fewer than two coordinates")
	}

	client, err := iom.NewClient(log, iom.Config{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		InstanceId:     cfg.InstanceId,
		OrganisationId: cfg.OrganisationId,
		ItcsId:         cfg.ItcsId,
	}, iom.RoleVehicle)
	if err != nil {
		return err
	}

	if err = client.Start(); err != nil {
		return err
	}
	defer client.Stop()

	if err = client.LogOnVehicle(cfg.Simulator.VehicleRef); err != nil {
		return err
	}
	defer func() {
		if err := client.LogOffVehicle(cfg.Simulator.VehicleRef); err != nil {
			log.Printf("main: logging off vehicle failed: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	interval := time.Duration(cfg.Simulator.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	index := 0
	for {
		select {
		case <-ticker.C:
			coord := coords[index]
			if err := client.PublishPosition(cfg.Simulator.VehicleRef, coord[0], coord[1], time.Now()); err != nil {
				log.Printf("main: publishing position failed: %v", err)
			}

			index++
			if index >= len(coords) {
				if !cfg.Simulator.Loop {
					log.Printf("main: replay finished after %d positions", len(coords))
					return nil
				}
				index = 0
			}
		case <-shutdown:
			log.Printf("main: shutting down on signal")
			return nil
		}
	}
}
