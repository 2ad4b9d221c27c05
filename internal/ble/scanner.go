package ble

import (
	"context"
	"log/slog"
	"time"

	"github.com/Southclaws/fault"
)

// Scanner finds the first peripheral advertising a given local name.
type Scanner struct {
	adapter Adapter
	timeout time.Duration // 0 means scan until the caller cancels
	logger  *slog.Logger
}

// NewScanner creates a Scanner. A zero timeout scans until ctx is done.
func NewScanner(adapter Adapter, timeout time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{adapter: adapter, timeout: timeout, logger: logger}
}

// Scan blocks until an advertisement named name is seen, then stops
// scanning and returns its device. If ctx is cancelled first, ctx.Err()
// is returned unwrapped so callers can tell cancellation from failure.
// An expired scan timeout is a KindDiscovery fault.
func (s *Scanner) Scan(ctx context.Context, name string) (Device, error) {
	scanCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	found := make(chan Device, 1)
	s.logger.Info("[BLE] scanning", "name", name)
	err := s.adapter.Scan(scanCtx, func(d Device) bool {
		if d.Name != name {
			return false
		}
		select {
		case found <- d:
		default:
		}
		return true
	})

	select {
	case d := <-found:
		s.logger.Info("[BLE] found device", "name", d.Name, "address", d.Address, "rssi", d.RSSI)
		return d, nil
	default:
	}

	if ctx.Err() != nil {
		return Device{}, ctx.Err()
	}
	if scanCtx.Err() != nil {
		return Device{}, WrapFault(scanCtx.Err(), KindDiscovery, "scan", "no matching device before scan timeout")
	}
	if err != nil {
		return Device{}, WrapFault(err, KindDiscovery, "scan", "BLE scan failed")
	}
	return Device{}, WrapFault(fault.New("scan stopped without a match"), KindDiscovery, "scan", "BLE scan ended early")
}
