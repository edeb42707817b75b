package timeline

import (
	"sync"
	"testing"
)

func entry(id, content string) Entry {
	return Entry{ID: id, Kind: EntryAssistant, Content: content}
}

func TestStreamFanOut(t *testing.T) {
	st := NewStream()

	recv1 := st.Subscribe(8)
	recv2 := st.Subscribe(8)

	st.publish(Update{Kind: UNewEntry, Entry: entry("1", "hello")})

	got1 := <-recv1.C
	got2 := <-recv2.C

	if got1.Kind != UNewEntry || got1.Entry.Content != "hello" {
		t.Fatalf("recv1: unexpected update %+v", got1)
	}
	if got2.Kind != UNewEntry || got2.Entry.Content != "hello" {
		t.Fatalf("recv2: unexpected update %+v", got2)
	}
}

func TestClosedSubscriberRemovedFromStream(t *testing.T) {
	st := NewStream()

	recv1 := st.Subscribe(8)
	recv2 := st.Subscribe(8)

	recv2.Close()

	st.publish(Update{Kind: UNewEntry, Entry: entry("1", "only-recv1")})

	got := <-recv1.C
	if got.Entry.Content != "only-recv1" {
		t.Fatalf("recv1: unexpected update %+v", got)
	}

	if _, ok := <-recv2.C; ok {
		t.Fatal("recv2 channel should be closed")
	}
}

func TestLaggingSubscriberDropped(t *testing.T) {
	st := NewStream()

	lagging := st.Subscribe(1)
	healthy := st.Subscribe(8)

	// Fill the lagging subscriber's buffer, then publish more. The lagging
	// subscriber must not block the publisher.
	st.publish(Update{Kind: UNewEntry, Entry: entry("1", "a")})
	st.publish(Update{Kind: UNewEntry, Entry: entry("2", "b")})
	st.publish(Update{Kind: UNewEntry, Entry: entry("3", "c")})

	if got := <-healthy.C; got.Entry.ID != "1" {
		t.Fatalf("healthy subscriber missed update: %+v", got)
	}
	if got := <-healthy.C; got.Entry.ID != "2" {
		t.Fatalf("healthy subscriber missed update: %+v", got)
	}

	// The lagging subscriber got the first update, then was pruned.
	if got := <-lagging.C; got.Entry.ID != "1" {
		t.Fatalf("lagging subscriber: %+v", got)
	}

	lagging.Close()
	healthy.Close()
}

func TestReceiverCloseDuringPublish(t *testing.T) {
	st := NewStream()

	// Close each receiver from another goroutine while the publisher is
	// delivering, so a send racing a close would panic here if the two were
	// not serialized.
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		recv := st.Subscribe(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recv.Close()
		}()
		st.publish(Update{Kind: UNewEntry, Entry: entry("1", "x")})
	}
	wg.Wait()
}

func TestSubscribeAfterClose(t *testing.T) {
	st := NewStream()
	st.Close()

	recv := st.Subscribe(1)
	if _, ok := <-recv.C; ok {
		t.Fatal("subscription on a closed stream should be closed immediately")
	}
}
