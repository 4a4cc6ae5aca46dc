package broadcast

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("machines")
	topic.SetSnapshot(func(ctx context.Context) ([]byte, error) {
		return []byte(`[{"machine_id":1}]`), nil
	})

	sub, err := topic.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	topic.Publish(Event{Name: "update", Data: []byte(`{"machine_id":1,"status":"IDLE"}`)})

	first := <-sub.Events()
	if first.Name != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", first.Name)
	}
	if string(first.Data) != `[{"machine_id":1}]` {
		t.Fatalf("snapshot data = %s", first.Data)
	}

	second := <-sub.Events()
	if second.Name != "update" {
		t.Fatalf("second event = %q, want update", second.Name)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("energy")

	a, _ := topic.Subscribe(context.Background())
	b, _ := topic.Subscribe(context.Background())
	defer a.Close()
	defer b.Close()

	topic.Publish(Event{Name: "update", Data: []byte("1")})

	for _, sub := range []*Subscriber{a, b} {
		ev := <-sub.Events()
		if string(ev.Data) != "1" {
			t.Fatalf("event data = %s, want 1", ev.Data)
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("params")

	sub, _ := topic.Subscribe(context.Background())
	defer sub.Close()

	// Fill the queue and push one more; the oldest event is shed.
	for i := 0; i < subscriberQueueSize+1; i++ {
		topic.Publish(Event{Name: "update", Data: []byte{byte(i)}})
	}

	first := <-sub.Events()
	if first.Data[0] != 1 {
		t.Fatalf("first delivered event = %d, want 1 (event 0 dropped)", first.Data[0])
	}
	// Remaining events are contiguous.
	for want := 2; want <= subscriberQueueSize; want++ {
		ev := <-sub.Events()
		if int(ev.Data[0]) != want {
			t.Fatalf("event = %d, want %d", ev.Data[0], want)
		}
	}
}

func TestPersistentOverflowEvictsWithNotice(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("status")

	sub, _ := topic.Subscribe(context.Background())

	// Never read: each publish beyond the queue sheds one event until the
	// eviction threshold fires.
	for i := 0; i < subscriberQueueSize+evictAfterDrops+1; i++ {
		topic.Publish(Event{Name: "update", Data: []byte("x")})
	}

	if got := topic.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after eviction", got)
	}

	// Drain: the final frame before close is the refresh-required notice.
	var last Event
	sawAny := false
	for ev := range sub.Events() {
		last = ev
		sawAny = true
	}
	if !sawAny {
		t.Fatal("no events delivered before close")
	}
	if last.Name != "error" {
		t.Fatalf("last event = %q, want error notice", last.Name)
	}
}

func TestSnapshotErrorFailsSubscribe(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("broken")
	topic.SetSnapshot(func(ctx context.Context) ([]byte, error) {
		return nil, context.DeadlineExceeded
	})

	if _, err := topic.Subscribe(context.Background()); err == nil {
		t.Fatal("Subscribe should surface the snapshot error")
	}
	if got := topic.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", got)
	}
}

func TestHubPublishWithoutTopicIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// Publishing to a topic nobody created must not create it.
	hub.Publish("ghost", Event{Name: "update"})

	hub.mu.Lock()
	_, exists := hub.topics["ghost"]
	hub.mu.Unlock()
	if exists {
		t.Fatal("Publish created the topic")
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	topic := hub.Topic("t")
	sub, _ := topic.Subscribe(context.Background())

	hub.Shutdown()

	if _, open := <-sub.Events(); open {
		t.Fatal("subscriber channel still open after shutdown")
	}
	if _, err := topic.Subscribe(context.Background()); err == nil {
		t.Fatal("Subscribe after shutdown should fail")
	}
}
