package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a-essam23/layoutsync/pkg/bus"
)

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestLocalBusDelivers(t *testing.T) {
	b := bus.NewLocalBus()
	defer b.Close()
	ctx := context.Background()

	got1 := make(chan []byte, 4)
	got2 := make(chan []byte, 4)
	if _, err := b.Subscribe(ctx, "room-a", func(msg []byte) { got1 <- msg }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(ctx, "room-a", func(msg []byte) { got2 <- msg }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, "room-a", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if msg := receive(t, got1); msg != "hello" {
		t.Errorf("subscriber 1 got %q", msg)
	}
	if msg := receive(t, got2); msg != "hello" {
		t.Errorf("subscriber 2 got %q", msg)
	}
}

func TestLocalBusChannelsAreIsolated(t *testing.T) {
	b := bus.NewLocalBus()
	defer b.Close()
	ctx := context.Background()

	got := make(chan []byte, 4)
	b.Subscribe(ctx, "room-a", func(msg []byte) { got <- msg })
	b.Publish(ctx, "room-b", []byte("other"))
	b.Publish(ctx, "room-a", []byte("mine"))

	if msg := receive(t, got); msg != "mine" {
		t.Errorf("expected only room-a traffic, got %q", msg)
	}
}

func TestLocalBusPreservesOrder(t *testing.T) {
	b := bus.NewLocalBus()
	defer b.Close()
	ctx := context.Background()

	got := make(chan []byte, 100)
	b.Subscribe(ctx, "room", func(msg []byte) { got <- msg })
	for i := 0; i < 100; i++ {
		b.Publish(ctx, "room", []byte{byte(i)})
	}
	for i := 0; i < 100; i++ {
		select {
		case msg := <-got:
			if msg[0] != byte(i) {
				t.Fatalf("message %d arrived out of order (got %d)", i, msg[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at message %d", i)
		}
	}
}

func TestLocalBusCancelStopsDelivery(t *testing.T) {
	b := bus.NewLocalBus()
	defer b.Close()
	ctx := context.Background()

	got := make(chan []byte, 4)
	cancel, _ := b.Subscribe(ctx, "room", func(msg []byte) { got <- msg })
	cancel()
	cancel()
	b.Publish(ctx, "room", []byte("late"))

	select {
	case msg := <-got:
		t.Errorf("cancelled subscription received %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalBusClosed(t *testing.T) {
	b := bus.NewLocalBus()
	b.Close()
	if err := b.Publish(context.Background(), "room", []byte("x")); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("expected ErrClosed from Publish, got %v", err)
	}
	if _, err := b.Subscribe(context.Background(), "room", func([]byte) {}); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe, got %v", err)
	}
}
