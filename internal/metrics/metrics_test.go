package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chaz8081/blelight/internal/color"
	"github.com/chaz8081/blelight/internal/events"
)

// eventually polls cond; bus delivery is asynchronous.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestInitialState(t *testing.T) {
	c := New(prometheus.NewRegistry())

	if v := testutil.ToFloat64(c.state.WithLabelValues("Disconnected")); v != 1 {
		t.Errorf("connection_state{Disconnected} = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.state.WithLabelValues("Connected")); v != 0 {
		t.Errorf("connection_state{Connected} = %v, want 0", v)
	}
}

func TestStateTransitions(t *testing.T) {
	bus := events.New()
	c := New(prometheus.NewRegistry())
	defer c.Attach(bus)()

	bus.Publish(events.StateChangedEvent{From: "Disconnected", To: "Connecting"})
	bus.Publish(events.StateChangedEvent{From: "Connecting", To: "Connected"})

	eventually(t, func() bool {
		return testutil.ToFloat64(c.state.WithLabelValues("Connected")) == 1
	}, "Connected gauge")

	if v := testutil.ToFloat64(c.state.WithLabelValues("Disconnected")); v != 0 {
		t.Errorf("connection_state{Disconnected} = %v, want 0", v)
	}
	if v := testutil.ToFloat64(c.transitions.WithLabelValues("Connecting")); v != 1 {
		t.Errorf("transitions_total{Connecting} = %v, want 1", v)
	}
}

func TestPipelineCounters(t *testing.T) {
	bus := events.New()
	c := New(prometheus.NewRegistry())
	defer c.Attach(bus)()

	red := color.New(255, 0, 0)
	bus.Publish(events.ColorSubmittedEvent{Color: red})
	bus.Publish(events.ColorSubmittedEvent{Color: red, Replaced: true})
	bus.Publish(events.ColorWrittenEvent{Color: red, Duration: 4 * time.Millisecond})
	bus.Publish(events.WriteFailedEvent{Color: red, Error: "boom"})

	eventually(t, func() bool { return testutil.ToFloat64(c.submissions) == 2 }, "submissions")
	eventually(t, func() bool { return testutil.ToFloat64(c.writes.WithLabelValues("error")) == 1 }, "failed writes")
	eventually(t, func() bool { return testutil.ToFloat64(c.writes.WithLabelValues("ok")) == 1 }, "ok writes")

	if v := testutil.ToFloat64(c.coalesced); v != 1 {
		t.Errorf("coalesced_total = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(c.writeDuration); n != 1 {
		t.Errorf("write_duration_seconds series = %d, want 1", n)
	}
}

func TestAttachDetach(t *testing.T) {
	bus := events.New()
	c := New(prometheus.NewRegistry())
	detach := c.Attach(bus)
	detach()

	bus.Publish(events.ColorSubmittedEvent{Color: color.Black})
	time.Sleep(20 * time.Millisecond)
	if v := testutil.ToFloat64(c.submissions); v != 0 {
		t.Errorf("submissions_total after detach = %v, want 0", v)
	}
}

func TestRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "blelight_session_connection_state" {
			found = true
		}
	}
	if !found {
		t.Error("blelight_session_connection_state not registered")
	}
}
