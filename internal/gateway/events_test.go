package gateway

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBusDispatchOrder(t *testing.T) {
	bus := NewEventBus(testLogger())

	var order []int
	bus.On("test", func(Event) { order = append(order, 1) })
	bus.On("test", func(Event) { order = append(order, 2) })
	bus.On("other", func(Event) { order = append(order, 99) })

	bus.Emit(Event{Type: "test"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("dispatch order = %v, want [1 2]", order)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())

	calls := 0
	off := bus.On("test", func(Event) { calls++ })

	bus.Emit(Event{Type: "test"})
	off()
	bus.Emit(Event{Type: "test"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEventBusOnAll(t *testing.T) {
	bus := NewEventBus(testLogger())

	var seen []string
	bus.OnAll(func(ev Event) { seen = append(seen, ev.Type) })

	bus.Emit(Event{Type: "a"})
	bus.Emit(Event{Type: "b"})

	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("seen = %v, want [a b]", seen)
	}
}

func TestEventBusRecoversPanic(t *testing.T) {
	bus := NewEventBus(testLogger())

	reached := false
	bus.On("test", func(Event) { panic("boom") })
	bus.On("test", func(Event) { reached = true })

	bus.Emit(Event{Type: "test"})

	if !reached {
		t.Error("handler after panicking handler was not invoked")
	}
}
