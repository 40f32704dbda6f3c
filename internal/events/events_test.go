package events

import (
	"context"
	"errors"
	"testing"
)

type failing struct{ calls int }

func (f *failing) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestBusFansOutPastFailures(t *testing.T) {
	bad := &failing{}
	rec := &Recorder{}
	bus := NewBus(nil, bad, rec)

	bus.Emit(context.Background(), Event{Type: QueueStatus, QueueID: 3, Status: "PROCESSING"})

	if bad.calls != 1 {
		t.Fatalf("failing publisher called %d times", bad.calls)
	}
	got := rec.OfType(QueueStatus)
	if len(got) != 1 || got[0].QueueID != 3 || got[0].At.IsZero() {
		t.Fatalf("recorded = %+v", rec.Events)
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Emit(context.Background(), Event{Type: OptOut})
}
