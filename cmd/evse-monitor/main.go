// Command evse-monitor supervises the ground-fault sense module of a charging
// station, meters delivered energy and publishes both to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/config"
	"github.com/sweeney/evse-monitor/internal/energy"
	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/hal"
	"github.com/sweeney/evse-monitor/internal/logging"
	"github.com/sweeney/evse-monitor/internal/mqtt"
	"github.com/sweeney/evse-monitor/internal/status"
	"github.com/sweeney/evse-monitor/internal/store"
	"github.com/sweeney/evse-monitor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	selfTest := flag.Bool("selftest", false, "Run one GFI self-test, print the result and exit")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyFlags(&cfg, *broker, *httpAddr)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("fatal: build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, *selfTest, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(cfg *config.Config, broker, httpAddr string) {
	if broker != "" {
		cfg.MQTT.Broker = broker
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
}

func run(cfg config.Config, selfTestOnly bool, logger *zap.Logger) error {
	variant, err := cfg.Variant()
	if err != nil {
		return err
	}

	pins, chip, err := openPins(cfg, variant, logger.Named("gpio"))
	if err != nil {
		return err
	}
	defer chip.Close()

	var watchdog hal.Watchdog = hal.NopWatchdog{}
	if cfg.Watchdog != "" {
		wd, err := hal.OpenWatchdog(cfg.Watchdog)
		if err != nil {
			return fmt.Errorf("open watchdog: %w", err)
		}
		defer wd.Close()
		watchdog = wd
	}

	clock := hal.NewSystemClock()
	monitor, err := gfi.NewMonitor(variant, pins, clock, watchdog, logger.Named("gfi"))
	if err != nil {
		return fmt.Errorf("init gfi: %w", err)
	}
	monitor.Init()
	defer monitor.Close()

	// Self-test mode
	if selfTestOnly {
		r := monitor.RunSelfTest()
		fmt.Printf("variant=%s result=%s code=%d t3=%v t6=%v\n",
			r.Variant, r.Result, uint8(r.Result), r.TripLatency, r.ClearLatency)
		if r.Result.Inconclusive() {
			return fmt.Errorf("self-test failed: %s", r.Result)
		}
		return nil
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	// Initialize MQTT
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
	ctrl := mqtt.NewControllerState()
	cmds := mqtt.NewCommands()
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topics:   topics,
		Router:   mqtt.NewRouter(topics, ctrl, cmds, logger.Named("mqtt")),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	meter := energy.NewMeter(ctrl, st, clock, energy.Config{
		CalcInterval:        time.Duration(cfg.Energy.CalcIntervalMs) * time.Millisecond,
		ThreePhase:          cfg.Energy.ThreePhase,
		Offset:              cfg.Energy.Offset,
		SkipFirstRelayCycle: cfg.Energy.SkipFirstRelayCycle,
	}, logger.Named("energy"))

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.PollMs,
		HeartbeatMs: cfg.Heartbeat,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Variant:     variant.Name,
		LineHz:      cfg.GFI.LineHz,
		Storage:     cfg.Storage.Backend,
		ThreePhase:  cfg.Energy.ThreePhase,
	})
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", zap.Error(err))
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, cmds, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	d := &daemon{
		monitor:    monitor,
		meter:      meter,
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		cmds:       cmds,
		heartbeat:  cfg.HeartbeatInterval(),
		now:        time.Now,
		logger:     logger,
	}

	if cfg.GFI.SelfTestOnBoot {
		d.runSelfTest(triggerBoot)
	}

	logger.Info("started",
		zap.String("variant", variant.Name),
		zap.Duration("poll", cfg.Poll()),
		zap.String("broker", cfg.MQTT.Broker),
		zap.Duration("heartbeat", cfg.HeartbeatInterval()),
		zap.String("storage", cfg.Storage.Backend))

	ticker := time.NewTicker(cfg.Poll())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(ticker.C, sigCh)
}

// openPins requests the sense, test and (if the variant has one) cal lines.
func openPins(cfg config.Config, v gfi.Variant, logger *zap.Logger) (gfi.Pins, io.Closer, error) {
	chip, err := hal.OpenChip(cfg.GFI.Chip, logger)
	if err != nil {
		return gfi.Pins{}, nil, fmt.Errorf("init gpio: %w", err)
	}
	sense, err := chip.Input(cfg.GFI.PinSense)
	if err != nil {
		chip.Close()
		return gfi.Pins{}, nil, fmt.Errorf("init gpio: %w", err)
	}
	test, err := chip.Output(cfg.GFI.PinTest)
	if err != nil {
		chip.Close()
		return gfi.Pins{}, nil, fmt.Errorf("init gpio: %w", err)
	}
	pins := gfi.Pins{Sense: sense, Test: test}
	if v.NeedsCalLine() {
		cal, err := chip.Output(cfg.GFI.PinCal)
		if err != nil {
			chip.Close()
			return gfi.Pins{}, nil, fmt.Errorf("init gpio: %w", err)
		}
		pins.Cal = cal
	}
	return pins, chip, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the configured backend for the persisted energy total.
func openStore(cfg config.Config) (store.Store, io.Closer, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendFile:
		f, err := store.OpenFile(sc.Path, sc.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		return f, f, nil
	case config.BackendRedis:
		r, err := store.OpenRedis(sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		return r, r, nil
	case config.BackendMemory:
		return store.NewMem(sc.Size), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("open storage: unknown backend %q", sc.Backend)
	}
}
