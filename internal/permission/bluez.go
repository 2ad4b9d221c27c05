package permission

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	propsGet     = "org.freedesktop.DBus.Properties.Get"
	accessDenied = "org.freedesktop.DBus.Error.AccessDenied"
)

// ErrAccessDenied is returned by a probe when D-Bus policy refuses the call.
var ErrAccessDenied = errors.New("permission: access denied by D-Bus policy")

// Probe checks whether the named BlueZ adapter is reachable and powered.
type Probe func(adapter string) (powered bool, err error)

// BluezGate grants Scan and Connect when BlueZ is on the system bus, the
// caller may talk to the adapter, and the adapter is powered.
type BluezGate struct {
	adapter string // e.g. "hci0"
	probe   Probe
	logger  *slog.Logger
}

// NewBluezGate creates a gate for the given adapter using the system bus.
func NewBluezGate(adapter string, logger *slog.Logger) *BluezGate {
	return newBluezGate(adapter, SystemBusProbe, logger)
}

func newBluezGate(adapter string, probe Probe, logger *slog.Logger) *BluezGate {
	if adapter == "" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BluezGate{adapter: adapter, probe: probe, logger: logger}
}

// HasPermission implements Gate. Every probe failure counts as denied.
func (g *BluezGate) HasPermission(c Capability) bool {
	switch c {
	case Scan, Connect:
	default:
		return false
	}

	powered, err := g.probe(g.adapter)
	if err != nil {
		g.logger.Debug("[permission] bluez probe failed", "capability", string(c), "adapter", g.adapter, "error", err)
		return false
	}
	if !powered {
		g.logger.Debug("[permission] adapter not powered", "capability", string(c), "adapter", g.adapter)
		return false
	}
	return true
}

// SystemBusProbe queries org.bluez.Adapter1.Powered on /org/bluez/<adapter>.
// The shared system bus connection is left open for reuse.
func SystemBusProbe(adapter string) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return false, fmt.Errorf("list bus names: %w", err)
	}
	if !slices.Contains(names, bluezBusName) {
		return false, fmt.Errorf("%s not found on system bus, is bluetooth.service running?", bluezBusName)
	}

	path := dbus.ObjectPath("/org/bluez/" + adapter)
	var v dbus.Variant
	err = conn.Object(bluezBusName, path).Call(propsGet, 0, adapterIface, "Powered").Store(&v)
	if err != nil {
		if isAccessDenied(err) {
			return false, ErrAccessDenied
		}
		return false, fmt.Errorf("get %s.Powered on %s: %w", adapterIface, path, err)
	}

	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered is not bool")
	}
	return powered, nil
}

// isAccessDenied reports whether err is a D-Bus AccessDenied reply.
// godbus hands back dbus.Error by value, *dbus.Error is accepted too.
func isAccessDenied(err error) bool {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name == accessDenied
	}
	var p *dbus.Error
	if errors.As(err, &p) {
		return p.Name == accessDenied
	}
	return false
}
