package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"tinygo.org/x/bluetooth"
)

// TinygoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows). Device addresses are whatever the platform
// reports: a MAC on Linux and Windows, a CoreBluetooth UUID on macOS.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	// seen maps Device.Address to the native address observed while scanning.
	seen *xsync.MapOf[string, bluetooth.Address]
	// connections maps Device.Address to the live link, for the
	// adapter-level disconnect handler.
	connections *xsync.MapOf[string, *tinygoConnection]
}

// NewTinygoAdapter creates an adapter on bluetooth.DefaultAdapter.
func NewTinygoAdapter(logger *slog.Logger) *TinygoAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		logger:      logger,
		seen:        xsync.NewMapOf[string, bluetooth.Address](),
		connections: xsync.NewMapOf[string, *tinygoConnection](),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return WrapFault(err, KindLink, "enable-adapter", "Cannot enable the Bluetooth adapter")
	}

	// tinygo/bluetooth fires this with connected=false when a peripheral
	// drops the link.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		conn, ok := a.connections.LoadAndDelete(device.Address.String())
		if ok {
			a.logger.Warn("[BLE] link lost", "address", device.Address.String())
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, handler func(Device) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	var stopOnce sync.Once
	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		d := Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		}
		a.seen.Store(d.Address, result.Address)
		if handler(d) {
			stopOnce.Do(func() { _ = adapter.StopScan() })
		}
	})
	close(done)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return WrapFault(err, KindDiscovery, "scan", "BLE scan failed")
	}
	return nil
}

func (a *TinygoAdapter) Connect(ctx context.Context, device Device) (Connection, error) {
	addr, ok := a.seen.Load(device.Address)
	if !ok {
		// Not from our own scan; let the platform parse it.
		addr.Set(device.Address)
	}

	// tinygo/bluetooth's Connect blocks with its own timeout and cannot be
	// cancelled, so race it against ctx.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		// Tear down a link that completes after we stopped waiting.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, WrapFault(ctx.Err(), KindLink, "connect", fmt.Sprintf("Connect to %s abandoned", device.Address))
	case r := <-ch:
		if r.err != nil {
			return nil, WrapFault(r.err, KindLink, "connect", fmt.Sprintf("Cannot connect to %s", device.Address))
		}
		conn := &tinygoConnection{device: r.device}
		conn.release = func() { a.connections.Delete(device.Address) }
		a.connections.Store(device.Address, conn)
		return conn, nil
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device  bluetooth.Device
	release func()

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := parseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	chrUUID, err := parseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, WrapFault(err, KindServiceMissing, "discover-services", "Service discovery failed")
	}
	if len(svcs) == 0 {
		return nil, WrapFault(fault.New("service not found"), KindServiceMissing, "discover-services",
			fmt.Sprintf("Service %s not found", serviceUUID))
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
	if err != nil {
		return nil, WrapFault(err, KindServiceMissing, "discover-characteristics", "Characteristic discovery failed")
	}
	if len(chars) == 0 {
		return nil, WrapFault(fault.New("characteristic not found"), KindServiceMissing, "discover-characteristics",
			fmt.Sprintf("Characteristic %s not found", charUUID))
	}

	return &tinygoCharacteristic{char: chars[0]}, nil
}

func (c *tinygoConnection) Disconnect() error {
	// Forget the link first so our own disconnect is not reported as a loss.
	c.release()
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// parseUUID accepts the canonical 36-character form in either case.
func parseUUID(s string) (bluetooth.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
	}
	return bluetooth.NewUUID(u), nil
}
