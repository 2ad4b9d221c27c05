// Package permission answers whether this process may use Bluetooth
// for scanning and connecting. It never prompts; asking the user is
// the caller's business.
package permission

// Capability is an opaque token naming a Bluetooth capability.
type Capability string

const (
	Scan    Capability = "bluetooth.scan"
	Connect Capability = "bluetooth.connect"
)

// Gate reports whether a capability is currently held. Results are not
// cached: permissions can change between calls.
type Gate interface {
	HasPermission(c Capability) bool
}

// Static is a Gate with a fixed answer per capability. Capabilities not
// in the map are denied.
type Static map[Capability]bool

// HasPermission implements Gate.
func (s Static) HasPermission(c Capability) bool {
	return s[c]
}

// AllowAll grants every capability. Used where the platform BLE stack
// asks the user on first use (CoreBluetooth, WinRT).
func AllowAll() Static {
	return Static{Scan: true, Connect: true}
}

// DenyAll grants nothing.
func DenyAll() Static {
	return Static{}
}
