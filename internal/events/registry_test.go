package events

import (
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestPublishDeliversInOrder(t *testing.T) {
	r := NewRegistry(8)
	ch, cancel := r.Subscribe("b1")
	defer cancel()

	for i := 0; i < 5; i++ {
		r.Publish("b1", models.Event{Kind: models.EventEtaUpdated, EtaSecs: i})
	}
	for i := 0; i < 5; i++ {
		select {
		case ev := <-ch:
			if ev.EtaSecs != i {
				t.Fatalf("out of order: want %d, got %d", i, ev.EtaSecs)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestPublishIsScopedToBooking(t *testing.T) {
	r := NewRegistry(8)
	ch1, cancel1 := r.Subscribe("b1")
	defer cancel1()
	ch2, cancel2 := r.Subscribe("b2")
	defer cancel2()

	r.Publish("b1", models.Event{Kind: models.EventStatusChanged})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("b1 subscriber missed its event")
	}
	select {
	case ev := <-ch2:
		t.Fatalf("b2 subscriber saw a foreign event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	r := NewRegistry(2)
	slow, cancelSlow := r.Subscribe("b1")
	defer cancelSlow()
	fast, cancelFast := r.Subscribe("b1")
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		// 4 events overflow the slow subscriber's buffer of 2
		for i := 0; i < 4; i++ {
			r.Publish("b1", models.Event{Kind: models.EventEtaUpdated, EtaSecs: i})
			// keep the fast subscriber fast
			<-fast
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// the slow channel was closed after being dropped
	n := 0
	for range slow {
		n++
	}
	if n != 2 {
		t.Fatalf("expected the 2 buffered events, got %d", n)
	}
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	r := NewRegistry(8)
	ch1, _ := r.Subscribe("b1")
	ch2, _ := r.Subscribe("b1")

	r.Publish("b1", models.Event{Kind: models.EventStatusChanged, Status: models.StatusCompleted})
	r.Close("b1")

	for _, ch := range []<-chan models.Event{ch1, ch2} {
		ev, ok := <-ch
		if !ok || ev.Status != models.StatusCompleted {
			t.Fatalf("buffered event should drain before close: ok=%v ev=%+v", ok, ev)
		}
		if _, ok := <-ch; ok {
			t.Fatal("channel should be closed")
		}
	}

	// publishing after close is a no-op
	r.Publish("b1", models.Event{Kind: models.EventStatusChanged})
}

func TestCancelIsIdempotent(t *testing.T) {
	r := NewRegistry(8)
	_, cancel := r.Subscribe("b1")
	cancel()
	cancel()
	r.Close("b1")
}
