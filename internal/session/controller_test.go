package session

import (
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/blelight/internal/ble"
	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
	"github.com/chaz8081/blelight/internal/permission"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.SettleDelay = 50 * time.Millisecond
	return opts
}

func newTestController(t *testing.T, adapter *mockAdapter, gate permission.Gate, opts Options) *Controller {
	t.Helper()
	c := New(adapter, gate, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEndToEndConnectAndWrite(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	sub := c.Subscribe()
	defer sub.Close()
	c.StartSession()

	got := collectStates(t, sub, 3)
	want := []State{Disconnected, Connecting, Connected}
	if !equalStates(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	if !c.SubmitColor(color.New(255, 0, 0)) || !c.SubmitColor(color.New(0, 255, 0)) {
		t.Fatal("SubmitColor() = false while connected")
	}

	char := adapter.conn.char
	waitFor(t, time.Second, func() bool { return char.writeCount() >= 1 }, "write")
	time.Sleep(100 * time.Millisecond)

	writes := char.written(t)
	if len(writes) != 1 || writes[0] != color.New(0, 255, 0) {
		t.Errorf("writes = %v, want exactly [rgb(0, 255, 0)]", writes)
	}
	char.mu.Lock()
	payload := char.writes[0]
	char.mu.Unlock()
	if len(payload) != 3 || payload[0] != 0 || payload[1] != 255 || payload[2] != 0 {
		t.Errorf("payload = %v, want [0 255 0]", payload)
	}
}

func TestStartSessionIsIdempotent(t *testing.T) {
	adapter := newMockAdapter() // never finds the light, scan stays pending
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	c.StartSession()
	waitFor(t, time.Second, func() bool { s, _, _ := adapter.counts(); return s == 1 }, "scan")
	c.StartSession()
	time.Sleep(30 * time.Millisecond)

	scans, _, _ := adapter.counts()
	if scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
	if c.State() != Connecting {
		t.Errorf("State() = %v, want Connecting", c.State())
	}
}

func TestStartSessionWhileConnectedIsNoop(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")
	c.StartSession()
	time.Sleep(20 * time.Millisecond)

	scans, _, connects := adapter.counts()
	if scans != 1 || connects != 1 {
		t.Errorf("scans = %d, connects = %d, want 1 and 1", scans, connects)
	}
}

func TestPermissionDeniedSkipsScanAndConnect(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	gate := &countingGate{granted: permission.DenyAll()}
	c := newTestController(t, adapter, gate, testOptions())

	sub := c.Subscribe()
	defer sub.Close()
	c.StartSession()

	got := collectStates(t, sub, 3)
	want := []State{Disconnected, Connecting, PermissionDenied}
	if !equalStates(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	scans, _, connects := adapter.counts()
	if scans != 0 || connects != 0 {
		t.Errorf("scans = %d, connects = %d, want 0 and 0", scans, connects)
	}
}

func TestConnectPermissionDenied(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	gate := &countingGate{granted: permission.Static{permission.Scan: true}}
	c := newTestController(t, adapter, gate, testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == PermissionDenied }, "PermissionDenied")

	scans, _, connects := adapter.counts()
	if scans != 1 || connects != 0 {
		t.Errorf("scans = %d, connects = %d, want 1 and 0", scans, connects)
	}
}

func TestStartSessionAfterPermissionGranted(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	gate := &countingGate{granted: permission.DenyAll()}
	c := newTestController(t, adapter, gate, testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == PermissionDenied }, "PermissionDenied")

	// Granted from outside; the gate is asked again, not cached.
	gate.set(permission.AllowAll())
	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	adapter.connectErr = ble.WrapFault(errors.New("gatt 133"), ble.KindLink, "connect", "Cannot connect")
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	sub := c.Subscribe()
	defer sub.Close()
	c.StartSession()

	got := collectStates(t, sub, 3)
	want := []State{Disconnected, Connecting, Disconnected}
	if !equalStates(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	// Not retried automatically.
	time.Sleep(30 * time.Millisecond)
	if _, _, connects := adapter.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestEnableFailureReturnsToDisconnected(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	adapter.enableErr = errors.New("adapter off")
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Disconnected }, "Disconnected")
	if scans, _, _ := adapter.counts(); scans != 0 {
		t.Errorf("scans = %d, want 0", scans)
	}
}

func TestScanTimeoutReturnsToDisconnected(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.ScanTimeout = 30 * time.Millisecond
	c := newTestController(t, adapter, permission.AllowAll(), opts)

	c.StartSession()
	waitFor(t, time.Second, func() bool { s, _, _ := adapter.counts(); return s == 1 }, "scan")
	waitFor(t, time.Second, func() bool { return c.State() == Disconnected }, "Disconnected")
}

func TestDegradedModeWhenCharacteristicMissing(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	adapter.conn.char = nil
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")

	if c.SubmitColor(color.New(1, 2, 3)) {
		t.Error("SubmitColor() = true in degraded mode")
	}
	time.Sleep(100 * time.Millisecond)
	if c.State() != Connected {
		t.Errorf("State() = %v, want Connected in degraded mode", c.State())
	}
}

func TestLinkLossReturnsToDisconnected(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")

	sub := c.Subscribe()
	defer sub.Close()
	adapter.conn.SimulateLinkLoss()

	got := collectStates(t, sub, 2)
	if !equalStates(got, []State{Connected, Disconnected}) {
		t.Fatalf("states = %v, want [Connected Disconnected]", got)
	}

	c.SubmitColor(color.New(5, 5, 5))
	time.Sleep(100 * time.Millisecond)
	if n := adapter.conn.char.writeCount(); n != 0 {
		t.Errorf("writes after link loss = %d, want 0", n)
	}

	// Not reconnected automatically.
	if scans, _, _ := adapter.counts(); scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
}

func TestLinkLossDropsPendingColor(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")

	c.SubmitColor(color.New(7, 7, 7))
	adapter.conn.SimulateLinkLoss() // inside the 50ms settle window

	time.Sleep(120 * time.Millisecond)
	if n := adapter.conn.char.writeCount(); n != 0 {
		t.Errorf("pending color was written after link loss (%d writes)", n)
	}
}

func TestRestartCancelsPendingScan(t *testing.T) {
	adapter := newMockAdapter()
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	sub := c.Subscribe()
	defer sub.Close()

	c.StartSession()
	waitFor(t, time.Second, func() bool { s, _, _ := adapter.counts(); return s == 1 }, "first scan")

	c.Restart()

	if _, cancelled, _ := adapter.counts(); cancelled != 1 {
		t.Errorf("cancelled scans = %d, want 1 by the time Restart returns", cancelled)
	}
	waitFor(t, time.Second, func() bool { s, _, _ := adapter.counts(); return s == 2 }, "second scan")

	got := collectStates(t, sub, 4)
	want := []State{Disconnected, Connecting, Disconnected, Connecting}
	if !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestRestartWhileConnectedReconnects(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")

	c.Restart()
	waitFor(t, time.Second, func() bool { _, _, n := adapter.counts(); return n == 2 }, "second connect")
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected again")

	if n := adapter.conn.disconnectCount(); n != 1 {
		t.Errorf("disconnects = %d, want 1", n)
	}
}

func TestSubmitColorWhileDisconnectedIsNoop(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := newTestController(t, adapter, permission.AllowAll(), testOptions())

	if c.SubmitColor(color.New(1, 1, 1)) {
		t.Error("SubmitColor() = true while disconnected")
	}
	time.Sleep(80 * time.Millisecond)
	if n := adapter.conn.char.writeCount(); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", c.State())
	}
}

func TestCloseDisconnectsAndStops(t *testing.T) {
	adapter := newMockAdapter(lightAdvert())
	c := New(adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { return c.State() == Connected }, "Connected")

	sub := c.Subscribe()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", c.State())
	}
	if n := adapter.conn.disconnectCount(); n != 1 {
		t.Errorf("disconnects = %d, want 1", n)
	}

	// The feed is shut down: the subscription channel drains and closes.
	timeout := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-sub.C:
		case <-timeout:
			t.Fatal("subscription channel not closed after Close()")
		}
	}

	// Closed controllers ignore further calls.
	c.StartSession()
	time.Sleep(20 * time.Millisecond)
	if scans, _, _ := adapter.counts(); scans != 1 {
		t.Errorf("scans after Close = %d, want 1", scans)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCloseCancelsPendingScan(t *testing.T) {
	adapter := newMockAdapter()
	c := New(adapter, permission.AllowAll(), testOptions())

	c.StartSession()
	waitFor(t, time.Second, func() bool { s, _, _ := adapter.counts(); return s == 1 }, "scan")

	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() blocked on a pending scan")
	}
	if _, cancelled, _ := adapter.counts(); cancelled != 1 {
		t.Errorf("cancelled scans = %d, want 1", cancelled)
	}
}

func TestControllerPublishesStateEvents(t *testing.T) {
	bus := events.New()
	changes := make(chan events.StateChangedEvent, 8)
	defer bus.Subscribe(func(e events.StateChangedEvent) { changes <- e })()

	adapter := newMockAdapter(lightAdvert())
	opts := testOptions()
	opts.Bus = bus
	c := newTestController(t, adapter, permission.AllowAll(), opts)
	c.StartSession()

	want := []string{"Connecting", "Connected"}
	for _, w := range want {
		select {
		case e := <-changes:
			if e.To != w {
				t.Errorf("StateChangedEvent.To = %q, want %q", e.To, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("no StateChangedEvent to %s", w)
		}
	}
}
