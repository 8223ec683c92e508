package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceBot, Kind: KindMessageHandled})
	b.Emit(SourceBot, KindMessageHandled, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmitStampsAndDelivers(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	before := time.Now()
	b.Emit(SourceAction, KindActionConfirmed, map[string]any{"action_id": "abc"})

	select {
	case got := <-ch:
		if got.Source != SourceAction || got.Kind != KindActionConfirmed {
			t.Errorf("got %s/%s, want %s/%s", got.Source, got.Kind, SourceAction, KindActionConfirmed)
		}
		if got.Timestamp.Before(before) {
			t.Errorf("timestamp %v is before emit time %v", got.Timestamp, before)
		}
		if got.Data["action_id"] != "abc" {
			t.Errorf("action_id = %v, want abc", got.Data["action_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := New()
	const n = 4
	chans := make([]<-chan Event, n)
	for i := range n {
		chans[i] = b.Subscribe(2)
	}
	defer func() {
		for _, ch := range chans {
			b.Unsubscribe(ch)
		}
	}()

	b.Emit(SourceHeartbeat, KindTick, nil)

	for i, ch := range chans {
		select {
		case ev := <-ch:
			if ev.Kind != KindTick {
				t.Errorf("subscriber %d got kind %q", i, ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	for range 10 {
		b.Emit(SourceBot, KindMessageHandled, nil)
	}
	if got := len(ch); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(1000)
	defer b.Unsubscribe(ch)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Emit(SourceSecurity, KindThreat, nil)
			}
		}()
	}
	wg.Wait()

	if got := len(ch); got != 500 {
		t.Errorf("received %d events, want 500", got)
	}
}
