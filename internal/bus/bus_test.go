package bus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	lit, cancelLit := b.Subscribe(BeaconLit, 4)
	defer cancelLit()
	all, cancelAll := b.SubscribeAll(4)
	defer cancelAll()

	b.Publish(Notification{Type: BeaconLit, Realm: "genesis", Tick: 1})
	b.Publish(Notification{Type: TierUp, Realm: "genesis", Tick: 2})

	select {
	case n := <-lit:
		if n.Type != BeaconLit {
			t.Fatalf("typed subscriber got %s", n.Type)
		}
	default:
		t.Fatalf("typed subscriber missed its notification")
	}
	select {
	case n := <-lit:
		t.Fatalf("typed subscriber got foreign notification %s", n.Type)
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		default:
			t.Fatalf("catch-all subscriber got %d notifications, want 2", i)
		}
	}
}

func TestPublishNeverBlocksAndCountsDrops(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe(BeaconLit, 1)
	defer cancel()

	// Buffer of one: the second and third publishes are shed.
	for i := 0; i < 3; i++ {
		b.Publish(Notification{Type: BeaconLit, Tick: uint64(i)})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(BeaconLit, 1)
	cancel()
	if _, open := <-ch; open {
		t.Fatalf("channel still open after cancel")
	}
	// Publishing after cancel must not panic or count drops.
	b.Publish(Notification{Type: BeaconLit})
	if got := b.Dropped(); got != 0 {
		t.Fatalf("dropped = %d after cancel, want 0", got)
	}
}

func TestCloseShutsEverythingDown(t *testing.T) {
	b := New()
	ch, _ := b.SubscribeAll(1)
	b.Close()
	if _, open := <-ch; open {
		t.Fatalf("subscriber channel open after close")
	}
	b.Publish(Notification{Type: BeaconLit}) // ignored, no panic
	b.Close()                                // idempotent

	late, cancel := b.Subscribe(BeaconLit, 1)
	defer cancel()
	if _, open := <-late; open {
		t.Fatalf("subscription after close returned an open channel")
	}
}
