package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(CommandRegistered, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	event := Event{Type: CommandRegistered, Data: CommandPayload{Tenant: "t1", Name: "ping"}}
	bus.Publish(event)

	// Wait for async delivery
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Type != CommandRegistered {
			t.Errorf("Expected CommandRegistered, got %v", received.Type)
		}
		payload, ok := received.Data.(CommandPayload)
		if !ok || payload.Name != "ping" {
			t.Errorf("Expected ping payload, got %v", received.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: CommandRegistered, Data: nil})
	bus.Publish(Event{Type: InvocationFinished, Data: nil})
	bus.Publish(Event{Type: StorageDegraded, Data: nil})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if atomic.LoadInt32(&count) != 3 {
			t.Errorf("Expected 3 events, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for events")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	var count int32
	unsub := bus.Subscribe(CommandRemoved, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	bus.PublishSync(Event{Type: CommandRemoved, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before unsub, got %d", count)
	}

	unsub()

	bus.PublishSync(Event{Type: CommandRemoved, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after unsub, got %d", count)
	}
}

func TestBus_PublishSync(t *testing.T) {
	bus := NewBus()

	var received []EventType
	var mu sync.Mutex

	bus.Subscribe(CommandRegistered, func(e Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})
	bus.Subscribe(CommandRenamed, func(e Event) {
		mu.Lock()
		received = append(received, e.Type)
		mu.Unlock()
	})

	// PublishSync should complete before returning
	bus.PublishSync(Event{Type: CommandRegistered, Data: nil})
	bus.PublishSync(Event{Type: CommandRenamed, Data: nil})

	mu.Lock()
	if len(received) != 2 {
		t.Errorf("Expected 2 events, got %d", len(received))
	}
	mu.Unlock()
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()

	var registered, finished int32

	bus.Subscribe(CommandRegistered, func(e Event) {
		atomic.AddInt32(&registered, 1)
	})
	bus.Subscribe(InvocationFinished, func(e Event) {
		atomic.AddInt32(&finished, 1)
	})

	bus.PublishSync(Event{Type: CommandRegistered, Data: nil})
	bus.PublishSync(Event{Type: CommandRegistered, Data: nil})
	bus.PublishSync(Event{Type: InvocationFinished, Data: nil})

	if atomic.LoadInt32(&registered) != 2 {
		t.Errorf("Expected 2 registered events, got %d", registered)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Errorf("Expected 1 finished event, got %d", finished)
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()

	// Should not panic with no subscribers
	bus.Publish(Event{Type: CommandRegistered, Data: nil})
	bus.PublishSync(Event{Type: CommandRegistered, Data: nil})
}

func TestGlobalBus_Reset(t *testing.T) {
	var count int32
	Subscribe(CommandRegistered, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	PublishSync(Event{Type: CommandRegistered, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected 1 event before reset, got %d", count)
	}

	Reset()

	PublishSync(Event{Type: CommandRegistered, Data: nil})
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("Expected still 1 event after reset, got %d", count)
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()

	var count int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(CommandRegistered, func(e Event) {
				atomic.AddInt32(&count, 1)
			})
			defer unsub()

			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: CommandRegistered, Data: nil})
			}
		}()
	}

	wg.Wait()
	// Give time for async events to be delivered
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) == 0 {
		t.Log("Warning: no events received, but no panic occurred")
	}
}
