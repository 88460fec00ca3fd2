package event

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"devserve/internal/metrics"
)

type namedEvent struct {
	name string
}

func (e namedEvent) Type() string {
	return e.name
}

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	ch, _ := bus.Subscribe()

	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after bus close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})
	ch, _ := bus.Subscribe()

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusDropOnFull(t *testing.T) {
	bus := NewBus[string](context.Background(), BusOptions{
		Name:                 "drop",
		SubscriberBufferSize: 1,
		Registry:             metrics.NewRegistry(),
	})
	t.Cleanup(bus.Close)

	ch, _ := bus.Subscribe()

	bus.Publish("first")

	done := make(chan struct{})
	go func() {
		bus.Publish("second")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked on a full subscriber")
	}

	select {
	case got := <-ch:
		if got != "first" {
			t.Fatalf("expected first event, got %q", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for first event")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	if dropped := bus.dropped.Load(); dropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", dropped)
	}
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	bus.Close()
	bus.Publish(1)
	bus.Close()
}

func TestBusWithoutRegistryRecordsNothing(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	t.Cleanup(bus.Close)

	if bus.registry != nil {
		t.Fatal("expected bus without a registry to keep none")
	}
	ch, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(7)
	if got := <-ch; got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestBusReportsTypedEventsToRegistry(t *testing.T) {
	registry := metrics.NewRegistry()
	bus := NewBus[namedEvent](context.Background(), BusOptions{Name: "reload", Registry: registry})
	t.Cleanup(bus.Close)

	_, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(namedEvent{name: "css"})

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(recorder.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, `devserve_bus_events_published_total{bus="reload",type="css"} 1`) {
		t.Fatalf("expected published counter, got:\n%s", text)
	}
	if !strings.Contains(text, `devserve_bus_subscribers{bus="reload"} 1`) {
		t.Fatalf("expected subscriber gauge, got:\n%s", text)
	}
}
