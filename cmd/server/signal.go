package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/concordkernel/appserver/internal/config"
	"github.com/concordkernel/appserver/internal/kernel/app"
)

// SignalHandler listens for SIGHUP and triggers AppContext.Reset, the
// kernel's synchronous environment-reset operation: every subsystem is
// torn down and rebuilt from the current on-disk configuration without
// restarting the process.
type SignalHandler struct {
	app     *app.AppContext
	cfg     *config.Config
	build   func(ctx context.Context, cfg *config.Config, a *app.AppContext) (app.Built, error)
	logger  *slog.Logger
	metrics SignalMetricsInterface

	lastResetTime atomic.Value // time.Time
	debounceWindow time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sigChan    chan os.Signal
	resetChan  chan struct{}
}

// SignalMetricsInterface is the subset of SignalPrometheusMetrics the
// handler records against, narrowed for testability.
type SignalMetricsInterface interface {
	RecordResetAttempt(status string)
	RecordResetDuration(duration float64)
	RecordSuccessTimestamp(timestamp float64)
	RecordFailureTimestamp(timestamp float64)
}

// NewSignalHandler returns a SignalHandler that resets appCtx by
// re-running build against cfg.
func NewSignalHandler(appCtx *app.AppContext, cfg *config.Config, build func(context.Context, *config.Config, *app.AppContext) (app.Built, error), logger *slog.Logger) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalHandler{
		app:            appCtx,
		cfg:            cfg,
		build:          build,
		logger:         logger,
		metrics:        NewSignalPrometheusMetrics(),
		debounceWindow: 1 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
		resetChan:      make(chan struct{}, 10),
	}
}

// Start registers for SIGHUP and begins processing reset requests.
func (h *SignalHandler) Start() {
	signal.Notify(h.sigChan, syscall.SIGHUP)
	h.wg.Add(2)
	go h.signalListener()
	go h.resetWorker()
	h.logger.Info("signal handler started", "signal", "SIGHUP", "debounce_window", h.debounceWindow)
}

// Stop unregisters the signal and waits for in-flight work to finish.
func (h *SignalHandler) Stop() {
	signal.Stop(h.sigChan)
	close(h.sigChan)
	h.cancel()
	h.wg.Wait()
}

func (h *SignalHandler) signalListener() {
	defer h.wg.Done()
	for {
		select {
		case sig, ok := <-h.sigChan:
			if !ok {
				return
			}
			h.logger.Info("received signal", "signal", sig.String())
			select {
			case h.resetChan <- struct{}{}:
			default:
				h.logger.Warn("reset already queued, dropping duplicate SIGHUP")
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) resetWorker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.resetChan:
			if h.shouldDebounce() {
				h.logger.Debug("reset debounced, too soon after previous reset")
				continue
			}
			h.lastResetTime.Store(time.Now())
			h.executeReset()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) shouldDebounce() bool {
	v := h.lastResetTime.Load()
	if v == nil {
		return false
	}
	return time.Since(v.(time.Time)) < h.debounceWindow
}

func (h *SignalHandler) executeReset() {
	start := time.Now()
	reloaded, err := config.LoadConfig(configPath)
	if err != nil {
		h.logger.Error("reloading config before reset failed, resetting with previous config", "error", err)
		reloaded = h.cfg
	} else {
		h.cfg = reloaded
	}

	ctx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	err = h.app.Reset(ctx, func(a *app.AppContext) (app.Built, error) {
		return h.build(ctx, reloaded, a)
	})
	duration := time.Since(start)
	if err != nil {
		h.metrics.RecordResetAttempt("failure")
		h.metrics.RecordResetDuration(duration.Seconds())
		h.metrics.RecordFailureTimestamp(float64(time.Now().Unix()))
		h.logger.Error("environment reset failed", "error", err, "duration_ms", duration.Milliseconds())
		return
	}
	h.metrics.RecordResetAttempt("success")
	h.metrics.RecordResetDuration(duration.Seconds())
	h.metrics.RecordSuccessTimestamp(float64(time.Now().Unix()))
	h.logger.Info("environment reset completed via SIGHUP", "duration_ms", duration.Milliseconds())
}

// runSignalHandler starts the SIGHUP handler and blocks until ctx is
// cancelled, stopping it on the way out.
func runSignalHandler(ctx context.Context, appCtx *app.AppContext, cfg *config.Config, logger *slog.Logger) {
	h := NewSignalHandler(appCtx, cfg, buildApp, logger)
	h.Start()
	<-ctx.Done()
	h.Stop()
}
