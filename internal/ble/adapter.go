// Package ble provides the Bluetooth Low Energy side of blelight: the
// adapter abstraction, the name-filtered device scanner, and the
// tinygo-org/bluetooth backed implementation.
package ble

import "context"

// ESP32 light defaults.
const (
	DeviceName    = "ESP32_Light"
	ServiceUUID   = "0000181F-0000-1000-8000-00805F9B34FB"
	ColorCharUUID = "0000290B-0000-1000-8000-00805F9B34FB"
)

// Characteristic represents a writable BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
}

// Device is the handle of a discovered BLE peripheral. It is only
// meaningful to the Adapter that produced it during a scan.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to handler until handler returns true
	// (Scan returns nil) or ctx is done (Scan returns ctx.Err()).
	Scan(ctx context.Context, handler func(Device) bool) error
	// Connect establishes a connection to a device found by Scan.
	Connect(ctx context.Context, device Device) (Connection, error)
}
