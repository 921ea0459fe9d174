package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/brick-tracker/internal/config"
	"github.com/LdDl/brick-tracker/internal/logging"
	"github.com/LdDl/brick-tracker/tracker"
	"github.com/sirupsen/logrus"
)

const drainTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "", "Path to YAML configuration. Defaults and BRICK_* environment variables are used when empty")
	inputPath  = flag.String("input", "-", "File with one JSON array of detections per line, '-' for stdin")
)

func main() {
	flag.Parse()
	log := logging.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Can't load configuration")
	}
	log = logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, closeInventory, err := openInventory(ctx, cfg.Inventory, log)
	if err != nil {
		log.WithError(err).WithField("backend", cfg.Inventory.Backend).Fatal("Can't open inventory")
	}
	defer closeInventory()

	brickTracker, err := tracker.NewIdentityTracker(
		cfg.Tracker.MaxDisappeared,
		service,
		tracker.WithMatchingAlgorithm(cfg.MatchingAlgorithm()),
		tracker.WithMaxDistance(cfg.Tracker.MaxDistance),
		tracker.WithTimeStep(cfg.Tracker.TimeStep),
		tracker.WithLogger(logging.Component(log, "tracker")),
	)
	if err != nil {
		log.WithError(err).Error("Can't create tracker")
		return
	}

	var input io.Reader = os.Stdin
	if *inputPath != "-" {
		file, err := os.Open(*inputPath)
		if err != nil {
			log.WithError(err).Error("Can't open input")
			return
		}
		defer file.Close()
		input = file
	}

	log.WithFields(logrus.Fields{
		"backend":         cfg.Inventory.Backend,
		"async":           cfg.Inventory.Async,
		"matching":        cfg.Tracker.Matching,
		"max_disappeared": cfg.Tracker.MaxDisappeared,
	}).Info("Tracking started")

	frames, err := processFrames(ctx, input, os.Stdout, brickTracker, logging.Component(log, "frames"))
	if err != nil {
		log.WithError(err).WithField("frames", frames).Error("Tracking stopped")
		return
	}
	log.WithFields(logrus.Fields{
		"frames": frames,
		"live":   brickTracker.Len(),
	}).Info("Input exhausted")
}
