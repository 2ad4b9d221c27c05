package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/permission"
)

// Options configures a Controller.
type Options struct {
	DeviceName     string        // advertised local name to connect to
	ServiceUUID    string        // GATT service holding the color characteristic
	CharUUID       string        // color characteristic
	ScanTimeout    time.Duration // 0 scans until cancelled
	ConnectTimeout time.Duration // 0 leaves it to the platform
	SettleDelay    time.Duration // see PipelineOptions
	MaxWriteRate   float64       // writes per second, 0 for no limit
	Bus            *events.Bus   // optional
	Logger         *slog.Logger  // optional, defaults to slog.Default()
}

// DefaultOptions returns the settings for the stock ESP32 light firmware.
func DefaultOptions() Options {
	return Options{
		DeviceName:     ble.DeviceName,
		ServiceUUID:    ble.ServiceUUID,
		CharUUID:       ble.ColorCharUUID,
		ConnectTimeout: 15 * time.Second,
		SettleDelay:    20 * time.Millisecond,
	}
}

// Controller is the entry point for presentation code: it starts
// connection attempts, accepts colors and exposes the connection state.
type Controller struct {
	adapter    ble.Adapter
	gate       permission.Gate
	scanner    *ble.Scanner
	session    *Session
	pipeline   *Pipeline
	feed       *StateFeed
	deviceName string
	logger     *slog.Logger

	stop       context.CancelFunc
	baseCtx    context.Context
	workerDone chan struct{}

	enableMu sync.Mutex
	enabled  bool

	mu            sync.Mutex
	closed        bool
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
}

// New creates a Controller and starts its write pipeline worker. Empty
// name and UUID options fall back to the ESP32 light defaults.
func New(adapter ble.Adapter, gate permission.Gate, opts Options) *Controller {
	if opts.DeviceName == "" {
		opts.DeviceName = ble.DeviceName
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = ble.ServiceUUID
	}
	if opts.CharUUID == "" {
		opts.CharUUID = ble.ColorCharUUID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	pipeline := NewPipeline(PipelineOptions{
		SettleDelay: opts.SettleDelay,
		MaxRate:     opts.MaxWriteRate,
		Bus:         opts.Bus,
		Logger:      opts.Logger.With("component", "pipeline"),
	})
	feed := newStateFeed(16)
	sessionLogger := opts.Logger.With("component", "session")

	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		adapter:    adapter,
		gate:       gate,
		scanner:    ble.NewScanner(adapter, opts.ScanTimeout, opts.Logger.With("component", "scanner")),
		pipeline:   pipeline,
		feed:       feed,
		deviceName: opts.DeviceName,
		logger:     opts.Logger.With("component", "controller"),
		stop:       stop,
		baseCtx:    ctx,
		workerDone: make(chan struct{}),
		session: &Session{
			adapter:        adapter,
			gate:           gate,
			pipeline:       pipeline,
			feed:           feed,
			bus:            opts.Bus,
			logger:         sessionLogger,
			serviceUUID:    opts.ServiceUUID,
			charUUID:       opts.CharUUID,
			connectTimeout: opts.ConnectTimeout,
		},
	}

	go func() {
		defer close(c.workerDone)
		pipeline.Run(ctx)
	}()

	return c
}

// StartSession begins a scan-and-connect attempt in the background. It
// does nothing while an attempt is in progress or a link is up.
func (c *Controller) StartSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	attempt, ok := c.session.Begin()
	if !ok {
		c.logger.Debug("[controller] session already active", "state", c.session.State().String())
		return
	}
	c.launchLocked(attempt)
}

// Restart abandons the current attempt or link and starts a new attempt.
// A pending scan is cancelled and has stopped before the new one begins.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if err := c.abortLocked(); err != nil {
		c.logger.Warn("[controller] disconnect during restart", "error", err)
	}
	attempt, ok := c.session.Begin()
	if !ok {
		return
	}
	c.launchLocked(attempt)
}

// SubmitColor hands col to the write pipeline. It never blocks. Unless a
// color characteristic is bound the color is dropped and false returned.
func (c *Controller) SubmitColor(col color.Color) bool {
	return c.pipeline.Submit(col)
}

// State returns the current connection state.
func (c *Controller) State() State {
	return c.session.State()
}

// Subscribe observes connection state transitions.
func (c *Controller) Subscribe() *Subscription {
	return c.feed.Subscribe()
}

// Close cancels any attempt, disconnects, stops the pipeline worker and
// closes all state subscriptions.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.abortLocked()
	c.stop()
	<-c.workerDone
	c.feed.close()
	return err
}

// launchLocked runs attempt on its own goroutine. Caller must hold mu.
func (c *Controller) launchLocked(attempt uint64) {
	// The previous attempt has already left Connecting, so it is at
	// most returning; wait so two attempts never use the adapter at once.
	if c.attemptDone != nil {
		<-c.attemptDone
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.cancelAttempt = cancel
	c.attemptDone = done

	go func() {
		defer close(done)
		defer cancel()
		c.run(ctx, attempt)
	}()
}

// abortLocked cancels the running attempt, waits for it, and closes the
// session. Caller must hold mu.
func (c *Controller) abortLocked() error {
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		<-c.attemptDone
		c.cancelAttempt = nil
		c.attemptDone = nil
	}
	return c.session.Close()
}

func (c *Controller) run(ctx context.Context, attempt uint64) {
	if !c.gate.HasPermission(permission.Scan) {
		c.session.Deny(attempt, permission.Scan)
		return
	}
	if err := c.enable(); err != nil {
		c.session.Fail(attempt, err)
		return
	}

	device, err := c.scanner.Scan(ctx, c.deviceName)
	if err != nil {
		c.session.Fail(attempt, err)
		return
	}
	c.session.Open(ctx, attempt, device)
}

// enable powers the adapter on first use. A failure is retried by the
// next attempt.
func (c *Controller) enable() error {
	c.enableMu.Lock()
	defer c.enableMu.Unlock()
	if c.enabled {
		return nil
	}
	if err := c.adapter.Enable(); err != nil {
		return ble.WrapFault(err, ble.KindLink, "enable-adapter", "Cannot enable the Bluetooth adapter")
	}
	c.enabled = true
	return nil
}
