package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/yok-tottii/vox-repeater/internal/api"
	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/config"
	"github.com/yok-tottii/vox-repeater/internal/hotkey"
	"github.com/yok-tottii/vox-repeater/internal/logger"
	"github.com/yok-tottii/vox-repeater/internal/metrics"
	"github.com/yok-tottii/vox-repeater/internal/printer"
	"github.com/yok-tottii/vox-repeater/internal/repeater"
	"github.com/yok-tottii/vox-repeater/internal/server"
	"github.com/yok-tottii/vox-repeater/internal/tray"
	"github.com/yok-tottii/vox-repeater/internal/vad"
)

const version = "0.1.0"

// App holds all application state
type App struct {
	logger     *logger.Logger
	config     *config.Config
	driver     *bus.PortAudioDriver
	bus        *bus.Controller
	metrics    *metrics.Metrics
	repeater   *repeater.Manager
	httpServer *server.Server
	apiHandler *api.Handler
	hotkeyMgr  *hotkey.Manager
	trayMgr    *tray.Manager

	cancel context.CancelFunc
	done   chan error

	mu      sync.Mutex
	started bool
	closed  bool // set by wait; a late start becomes a no-op
}

func init() {
	// systray and the hotkey backend need the main thread on macOS
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to the configuration file")
	listDevices := flag.Bool("list-devices", false, "list audio devices and exit")
	noTray := flag.Bool("no-tray", false, "run without the system tray")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid -log-level: %v", err)
	}

	loggerConfig := logger.DefaultConfig()
	loggerConfig.Level = level
	loggerConfig.Console = os.Stderr
	l, err := logger.New(loggerConfig)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	app := &App{logger: l, done: make(chan error, 1)}
	err = app.run(*configPath, *listDevices, *noTray)
	if err != nil {
		l.Error("%v", err)
	}
	l.Close()

	if err != nil {
		os.Exit(1)
	}
}

func (a *App) run(configPath string, listDevices, noTray bool) error {
	a.logger.Info("vox-repeater v%s starting", version)

	var err error
	a.config, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.logger.Info("Loaded config: %s", configPath)

	a.driver, err = bus.NewPortAudioDriver(a.config.Audio.DeviceID)
	if err != nil {
		return err
	}
	defer a.driver.Close()

	if listDevices {
		return a.printDevices()
	}

	a.build()
	defer a.bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	if a.config.Diagnostics.Tray && !noTray {
		a.trayMgr = tray.NewManager(tray.Config{
			Hotkey:        a.hotkeyLabel(),
			Version:       "v" + version,
			OnReady:       func() { a.start(ctx) },
			OnRecalibrate: a.repeater.Recalibrate,
			OnQuit:        a.cancel,
		})
		a.repeater.OnChange(a.trayMgr.Update)

		go func() {
			<-ctx.Done()
			a.trayMgr.Quit()
		}()

		// Blocks until the tray quits
		a.trayMgr.Run()
		a.cancel()
	} else {
		a.start(ctx)
	}

	return a.wait()
}

// build wires the bus, detector and control loop from the config
func (a *App) build() {
	cfg := a.config

	a.bus = bus.NewController(a.driver, bus.Config{
		SampleRate:    cfg.Audio.SampleRate,
		BitsPerSample: cfg.Audio.BitsPerSample,
		Channels:      cfg.Audio.Channels,
		DMABufCount:   cfg.Audio.DMABufCount,
		DMABufLen:     cfg.Audio.DMABufLen,
		Pins: bus.PinConfig{
			BCK:     cfg.Pins.BCK,
			WS:      cfg.Pins.WS,
			DataOut: cfg.Pins.DataOut,
			DataIn:  cfg.Pins.DataIn,
			MCK:     cfg.Pins.MCK,
		},
	}, a.logger)

	printer.SetEnabled(cfg.Diagnostics.Enabled)
	diag := printer.New(os.Stdout)
	diag.Mirror(func(line string) {
		a.logger.Debug("diag: %s", line)
	})

	detector := vad.New(cfg.Audio.BufferBytes, vad.Config{
		Gain:             cfg.Detector.Gain,
		Multiplier:       cfg.Detector.Multiplier,
		MinThreshold:     cfg.Detector.MinThreshold,
		CalibrationSkip:  cfg.Detector.CalibrationSkip,
		DetectionSkip:    cfg.Detector.DetectionSkip,
		MinActiveSamples: cfg.Detector.MinActiveSamples,
	}, diag)

	a.metrics = metrics.New()
	a.repeater = repeater.New(a.bus, detector, cfg.FrameSamples(), repeater.Config{
		CalibrationFrames: cfg.Repeater.CalibrationFrames,
		MaxModeRetries:    cfg.Repeater.MaxModeRetries,
		RetryDelay:        time.Duration(cfg.Repeater.RetryDelayMs) * time.Millisecond,
	}, a.metrics, a.logger)
}

// start brings up the side channels and launches the control loop.
// In tray mode it runs from the systray ready callback, on the systray
// goroutine.
func (a *App) start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true

	a.startServer()
	a.startHotkey()

	go func() {
		err := a.repeater.Run(ctx)
		a.done <- err
		// Take the tray down with the loop.
		a.cancel()
	}()

	a.logger.Info("Repeater running (recalibrate: %s)", a.hotkeyLabel())
}

// wait blocks until the control loop returns and shuts the rest down.
// A start still in progress finishes first; one that has not begun yet
// never launches the loop.
func (a *App) wait() error {
	a.mu.Lock()
	started := a.started
	a.closed = true
	a.mu.Unlock()

	if !started {
		return nil
	}

	err := <-a.done

	if a.hotkeyMgr != nil {
		if cerr := a.hotkeyMgr.Close(); cerr != nil {
			a.logger.Warn("%v", cerr)
		}
	}
	if a.httpServer != nil {
		if serr := a.httpServer.Stop(); serr != nil {
			a.logger.Warn("%v", serr)
		}
	}

	status := a.repeater.Status()
	a.logger.Info("Stopped after %d frames (%d active)", status.Frames, status.ActiveFrames)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startServer() {
	if !a.config.Server.Enabled {
		return
	}

	cfg := server.DefaultConfig()
	cfg.Port = a.config.Server.Port
	a.httpServer = server.New(cfg, a.logger)

	a.apiHandler = api.New(a.config, a.repeater)
	a.apiHandler.SetDeviceLister(a.driver)
	a.apiHandler.RegisterRoutes(a.httpServer.GetMux())
	a.httpServer.Handle("/metrics", a.metrics.Handler())

	if err := a.httpServer.Start(); err != nil {
		// The repeater works without the status server.
		a.logger.Error("Failed to start status server: %v", err)
		a.httpServer = nil
		return
	}
	a.logger.Info("Status server: %s/api/status", a.httpServer.URL())
}

func (a *App) startHotkey() {
	if !a.config.Hotkey.Enabled {
		return
	}

	hkConfig, err := hotkey.FromSettings(a.config.Hotkey.Ctrl, a.config.Hotkey.Shift, a.config.Hotkey.Key)
	if err != nil {
		a.logger.Error("Invalid hotkey settings: %v", err)
		return
	}

	mgr := hotkey.New()
	if err := mgr.Register(hkConfig); err != nil {
		a.logger.Warn("%v", err)
		return
	}
	a.hotkeyMgr = mgr
	a.logger.Info("Hotkey registered: %s", hkConfig)

	go a.hotkeyEventLoop(mgr.Events())
}

// hotkeyEventLoop turns key presses into recalibration requests
func (a *App) hotkeyEventLoop(events <-chan hotkey.Event) {
	for event := range events {
		if event.Type == hotkey.Pressed {
			a.logger.Info("Hotkey pressed - recalibrating")
			a.repeater.Recalibrate()
		}
	}
}

func (a *App) hotkeyLabel() string {
	if !a.config.Hotkey.Enabled {
		return ""
	}
	hkConfig, err := hotkey.FromSettings(a.config.Hotkey.Ctrl, a.config.Hotkey.Shift, a.config.Hotkey.Key)
	if err != nil {
		return ""
	}
	return hkConfig.String()
}

func (a *App) printDevices() error {
	devices, err := a.driver.ListDevices()
	if err != nil {
		return err
	}

	for _, dev := range devices {
		marker := " "
		if dev.IsDefaultInput || dev.IsDefaultOutput {
			marker = "*"
		}
		fmt.Printf("%s %2d  %-40s in:%d out:%d\n", marker, dev.ID, dev.Name, dev.Inputs, dev.Outputs)
	}
	return nil
}
