package bus

import (
	"testing"
	"time"

	"infobot/internal/domain"
)

func TestPublishSubscribe_PreservesOrder(t *testing.T) {
	b := New(8, nil)
	defer b.Close()

	for i, contact := range []string{"A", "B", "C"} {
		b.Publish(domain.ActivityEvent{
			Contact: contact,
			Signal:  "changed",
			At:      time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}

	events := b.Subscribe()
	for _, want := range []string{"A", "B", "C"} {
		select {
		case ev := <-events:
			if ev.Contact != want {
				t.Fatalf("order broken: got %q, want %q", ev.Contact, want)
			}
		case <-time.After(time.Second):
			t.Fatal("event missing")
		}
	}
}

func TestPublishAfterClose_IsDropped(t *testing.T) {
	b := New(8, nil)
	b.Close()

	// Must not panic on the closed channel.
	b.Publish(domain.ActivityEvent{Contact: "A", Signal: "changed"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("closed bus must not deliver events")
	}
}

func TestClose_UnblockedByWaitingPublisher(t *testing.T) {
	b := New(1, nil)
	b.Publish(domain.ActivityEvent{Contact: "A", Signal: "changed"})

	// Second publish finds the bus full and enters the waiting path.
	published := make(chan struct{})
	go func() {
		b.Publish(domain.ActivityEvent{Contact: "B", Signal: "changed"})
		close(published)
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close must not block behind a waiting publisher")
	}
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("waiting publisher must return once the bus closes")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	b := New(8, nil)
	b.Close()
	b.Close() // second close must not panic
}
