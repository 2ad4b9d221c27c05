package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/permission"
)

// Session is the connection state machine for one peripheral. It is the
// only writer of the connection state.
//
// Each Begin starts a new attempt and returns its id. Transitions from an
// attempt other than the current one are ignored, so a cancelled scan or
// a late link-loss callback cannot disturb a newer attempt.
type Session struct {
	adapter  ble.Adapter
	gate     permission.Gate
	pipeline *Pipeline
	feed     *StateFeed
	bus      *events.Bus
	logger   *slog.Logger

	serviceUUID    string
	charUUID       string
	connectTimeout time.Duration

	mu      sync.Mutex
	state   State
	attempt uint64
	conn    ble.Connection
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin moves Disconnected or PermissionDenied to Connecting and returns
// the new attempt id. It returns false if an attempt is already active.
func (s *Session) Begin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return 0, false
	}
	s.attempt++
	s.setLocked(Connecting)
	return s.attempt, true
}

// Deny ends the attempt in PermissionDenied.
func (s *Session) Deny(attempt uint64, c permission.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt || s.state != Connecting {
		return
	}
	s.logger.Warn("[session] bluetooth permission missing", "capability", string(c), "kind", ble.KindPermission)
	s.setLocked(PermissionDenied)
}

// Fail ends the attempt in Disconnected. Nothing is retried.
func (s *Session) Fail(attempt uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt || s.state != Connecting {
		return
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Info("[session] connection attempt cancelled")
	} else {
		s.logger.Warn("[session] connection attempt failed", "error", err, "kind", ble.KindOf(err))
	}
	s.setLocked(Disconnected)
}

// Open connects to device and, once the link is up, binds the pipeline
// and enters Connected. A missing service or characteristic leaves the
// session Connected with the pipeline in degraded mode.
func (s *Session) Open(ctx context.Context, attempt uint64, device ble.Device) {
	if !s.gate.HasPermission(permission.Connect) {
		s.Deny(attempt, permission.Connect)
		return
	}

	connectCtx := ctx
	if s.connectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}

	s.logger.Info("[session] connecting", "name", device.Name, "address", device.Address)
	conn, err := s.adapter.Connect(connectCtx, device)
	if err != nil {
		s.Fail(attempt, err)
		return
	}
	conn.OnDisconnect(func() { s.linkLost(attempt) })

	char, err := conn.DiscoverCharacteristic(s.serviceUUID, s.charUUID)
	if err != nil {
		s.logger.Warn("[session] color characteristic unavailable",
			"service", s.serviceUUID, "characteristic", s.charUUID, "error", err, "kind", ble.KindOf(err))
		char = nil
	}

	s.mu.Lock()
	if attempt != s.attempt || s.state != Connecting {
		s.mu.Unlock()
		s.logger.Info("[session] dropping link of a superseded attempt", "address", device.Address)
		_ = conn.Disconnect()
		return
	}
	s.conn = conn
	s.pipeline.Bind(char)
	s.setLocked(Connected)
	s.mu.Unlock()

	s.logger.Info("[session] connected", "name", device.Name, "address", device.Address)
}

// linkLost handles the peripheral dropping the link.
func (s *Session) linkLost(attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt || !s.state.Active() {
		return
	}
	s.logger.Warn("[session] link lost")
	s.conn = nil
	s.pipeline.Unbind()
	s.setLocked(Disconnected)
}

// Close tears down the current link, if any, and enters Disconnected.
// Any in-flight attempt becomes stale.
func (s *Session) Close() error {
	s.mu.Lock()
	s.attempt++
	conn := s.conn
	s.conn = nil
	s.pipeline.Unbind()
	s.setLocked(Disconnected)
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return ble.WrapFault(conn.Disconnect(), ble.KindLink, "disconnect", "Disconnect failed")
}

// setLocked performs a transition. Caller must hold mu.
func (s *Session) setLocked(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	s.feed.publish(next)
	s.bus.Publish(events.StateChangedEvent{From: prev.String(), To: next.String(), Timestamp: time.Now()})
	s.logger.Debug("[session] state changed", "from", prev.String(), "to", next.String())
}
