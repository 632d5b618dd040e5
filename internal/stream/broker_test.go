package stream_test

import (
	"encoding/json"
	"testing"

	"github.com/seantiz/forge/internal/stream"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestBrokerSingleSubscriber(t *testing.T) {
	b := stream.NewBroker()
	ch, unsub := b.Subscribe("s1")
	defer unsub()

	chunks := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	for _, c := range chunks {
		b.Publish("s1", raw(c))
	}
	b.Close("s1")

	var got []string
	for c := range ch {
		got = append(got, string(c))
	}

	if len(got) != len(chunks) {
		t.Fatalf("got %d chunks, want %d", len(got), len(chunks))
	}
	for i, c := range got {
		if c != chunks[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, c, chunks[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := stream.NewBroker()
	ch1, unsub1 := b.Subscribe("s1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("s1")
	defer unsub2()

	b.Publish("s1", raw(`{"hello":true}`))
	b.Close("s1")

	var got1, got2 []string
	for c := range ch1 {
		got1 = append(got1, string(c))
	}
	for c := range ch2 {
		got2 = append(got2, string(c))
	}

	if len(got1) != 1 || got1[0] != `{"hello":true}` {
		t.Errorf("subscriber 1 got %v, want one chunk", got1)
	}
	if len(got2) != 1 || got2[0] != `{"hello":true}` {
		t.Errorf("subscriber 2 got %v, want one chunk", got2)
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := stream.NewBroker()
	b.Publish("s1", raw(`{"early":true}`))
	b.Close("s1")

	ch, unsub := b.Subscribe("s1")
	defer unsub()

	_, ok := <-ch
	if ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := stream.NewBroker()
	ch, unsub := b.Subscribe("s1")
	unsub()

	b.Publish("s1", raw(`{"after":true}`))
	b.Close("s1")

	select {
	case c, ok := <-ch:
		if ok {
			t.Errorf("got unexpected chunk %q after unsubscribe", c)
		}
	default:
	}
}

func TestBrokerPublishToUnknownStreamIsNoop(t *testing.T) {
	b := stream.NewBroker()
	// Should not panic.
	b.Publish("nonexistent", raw(`{}`))
	b.Close("nonexistent")
}
