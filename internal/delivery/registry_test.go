package delivery

import (
	"testing"
)

func TestRegistryPublish(t *testing.T) {
	reg := NewRegistry[int](nil)

	ch, cancel := reg.Subscribe()
	defer cancel()

	reg.Publish(1)
	if got := <-ch; got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestRegistryLatestWins(t *testing.T) {
	reg := NewRegistry[int](nil)
	ch, cancel := reg.Subscribe()
	defer cancel()

	reg.Publish(1)
	reg.Publish(2)
	reg.Publish(3)

	if got := <-ch; got != 3 {
		t.Errorf("expected latest value 3, got %d", got)
	}
	select {
	case v := <-ch:
		t.Errorf("expected no further values, got %d", v)
	default:
	}
}

func TestRegistryReplaysLastOnSubscribe(t *testing.T) {
	reg := NewRegistry[string](nil)
	reg.Publish("hello")

	ch, cancel := reg.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if got != "hello" {
			t.Errorf("expected %q, got %q", "hello", got)
		}
	default:
		t.Fatal("expected last value on subscribe")
	}
}

func TestRegistryCancel(t *testing.T) {
	var counts []int
	reg := NewRegistry[int](func(n int) { counts = append(counts, n) })

	ch, cancel := reg.Subscribe()
	if reg.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", reg.Len())
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
	if reg.Len() != 0 {
		t.Errorf("expected 0 subscribers, got %d", reg.Len())
	}
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("expected count callbacks [1 0], got %v", counts)
	}

	// Publishing with no subscribers must not block.
	reg.Publish(5)
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry[int](nil)
	a, cancelA := reg.Subscribe()
	b, _ := reg.Subscribe()

	reg.Close()
	cancelA()

	if _, ok := <-a; ok {
		t.Error("expected first channel closed")
	}
	if _, ok := <-b; ok {
		t.Error("expected second channel closed")
	}
}
