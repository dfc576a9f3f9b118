package main

import (
	"context"
	"testing"
	"time"

	"github.com/yok-tottii/vox-repeater/internal/bus"
	"github.com/yok-tottii/vox-repeater/internal/bus/mock"
	"github.com/yok-tottii/vox-repeater/internal/config"
	"github.com/yok-tottii/vox-repeater/internal/logger"
	"github.com/yok-tottii/vox-repeater/internal/metrics"
	"github.com/yok-tottii/vox-repeater/internal/repeater"
	"github.com/yok-tottii/vox-repeater/internal/vad"
)

// newTestApp wires an App over the mock driver with the side channels off.
// The returned context is cancelled once the driver runs out of frames.
func newTestApp(t *testing.T) (*App, *mock.Driver, context.Context) {
	t.Helper()

	logConfig := logger.DefaultConfig()
	logConfig.LogDir = t.TempDir()
	l, err := logger.New(logConfig)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	cfg := config.DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Hotkey.Enabled = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	driver := &mock.Driver{OnDrained: cancel}
	controller := bus.NewController(driver, bus.DefaultConfig(), l)
	detector := vad.New(40, vad.DefaultConfig(), nil)

	repCfg := repeater.DefaultConfig()
	repCfg.RetryDelay = time.Millisecond

	app := &App{
		logger:  l,
		config:  cfg,
		bus:     controller,
		metrics: metrics.New(),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	app.repeater = repeater.New(controller, detector, 20, repCfg, app.metrics, l)
	return app, driver, ctx
}

func TestStartThenWait(t *testing.T) {
	app, driver, ctx := newTestApp(t)

	app.start(ctx)
	// A second ready callback must not launch another loop.
	app.start(ctx)

	if err := app.wait(); err != nil {
		t.Errorf("Expected nil after cancellation, got %v", err)
	}

	if len(driver.Ops()) == 0 {
		t.Error("Expected the control loop to drive the bus")
	}
	if app.repeater.Status().State != "Stopped" {
		t.Errorf("Expected Stopped, got %s", app.repeater.Status().State)
	}
}

func TestWaitBeforeStart(t *testing.T) {
	app, driver, ctx := newTestApp(t)

	if err := app.wait(); err != nil {
		t.Fatalf("Expected nil, got %v", err)
	}

	// The tray may still deliver its ready callback after quit.
	app.start(ctx)

	select {
	case err := <-app.done:
		t.Fatalf("Control loop ran after wait returned: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if ops := driver.Ops(); len(ops) != 0 {
		t.Errorf("Expected no bus activity, got %v", ops)
	}
}

func TestStartRacesWait(t *testing.T) {
	for i := 0; i < 20; i++ {
		app, _, ctx := newTestApp(t)

		go app.start(ctx)

		result := make(chan error, 1)
		go func() { result <- app.wait() }()

		select {
		case err := <-result:
			if err != nil {
				t.Fatalf("Expected nil, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("wait did not return")
		}
	}
}
