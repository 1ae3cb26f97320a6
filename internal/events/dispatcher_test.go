package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSink struct {
	name     string
	mu       sync.Mutex
	failures int
	events   []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met before deadline")
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{name: "test"}
	d := NewDispatcher([]Sink{sink})
	defer d.Stop()

	id := d.Publish(TypeConversationUpdated, "lead:1", "s1", map[string]interface{}{"added": 2})
	if id == "" {
		t.Fatalf("Expected generated event id")
	}

	waitFor(t, func() bool { return sink.count() == 1 })
	waitFor(t, func() bool { return d.Status().PendingEvents == 0 })

	got := sink.events[0]
	if got.Type != TypeConversationUpdated || got.ClientRef != "lead:1" || got.SessionID != "s1" {
		t.Errorf("Unexpected event %+v", got)
	}
}

func TestDispatcherRetriesFailedSinkOnly(t *testing.T) {
	healthy := &recordingSink{name: "healthy"}
	flaky := &recordingSink{name: "flaky", failures: 1}
	d := NewDispatcher([]Sink{healthy, flaky}, WithRetries(3, 20*time.Millisecond))
	defer d.Stop()

	d.Publish(TypeWindowLocked, "contact:9", "", nil)

	waitFor(t, func() bool { return flaky.count() == 1 })
	waitFor(t, func() bool { return d.Status().PendingEvents == 0 })
	if healthy.count() != 1 {
		t.Errorf("Healthy sink must receive the event exactly once, got %d", healthy.count())
	}
}

func TestDispatcherGivesUp(t *testing.T) {
	broken := &recordingSink{name: "broken", failures: 100}
	d := NewDispatcher([]Sink{broken}, WithRetries(2, 10*time.Millisecond))
	defer d.Stop()

	d.Publish(TypeMessageUnresolved, "", "", nil)
	waitFor(t, func() bool { return d.Status().PendingEvents == 0 })
	if broken.count() != 0 {
		t.Errorf("Expected no successful deliveries")
	}
}

func TestDispatcherWithoutSinks(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Stop()
	if id := d.Publish(TypeConversationUpdated, "", "", nil); id != "" {
		t.Errorf("Expected dropped event without id, got %s", id)
	}
	if d.Status().PendingEvents != 0 {
		t.Errorf("Expected nothing pending")
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("crm_inbox", TypeWindowLocked); got != "crm_inbox_conversation_window_locked" {
		t.Errorf("Unexpected queue name %s", got)
	}
}

func TestPublishRejectsUnknownType(t *testing.T) {
	sink := &recordingSink{name: "test"}
	d := NewDispatcher([]Sink{sink})
	defer d.Stop()

	if id := d.Publish("lead.deleted", "lead:1", "", nil); id != "" {
		t.Errorf("Expected unknown type to be refused, got id %s", id)
	}
	if !IsValidType(TypeMessageUnresolved) || IsValidType("") {
		t.Errorf("Unexpected type validation result")
	}
}

func TestForceRetry(t *testing.T) {
	flaky := &recordingSink{name: "flaky", failures: 1}
	d := NewDispatcher([]Sink{flaky}, WithRetries(5, time.Hour))
	defer d.Stop()

	id := d.Publish(TypeConversationUpdated, "lead:1", "", nil)
	waitFor(t, func() bool {
		e, ok := d.EventStatus(id)
		return ok && e.AttemptCount == 1
	})

	if !d.ForceRetry(id) {
		t.Fatalf("Expected pending event to be retried")
	}
	waitFor(t, func() bool { return flaky.count() == 1 })
	waitFor(t, func() bool { return d.Status().PendingEvents == 0 })

	if d.ForceRetry(id) {
		t.Errorf("Delivered event must not be retried")
	}
}

type slowFailingSink struct {
	active    int32
	maxActive int32
	calls     int32
}

func (s *slowFailingSink) Name() string { return "slow" }

func (s *slowFailingSink) Deliver(_ context.Context, e *Event) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, n) {
			break
		}
	}
	atomic.AddInt32(&s.calls, 1)
	if _, err := json.Marshal(e); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return errors.New("broker unavailable")
}

func TestForceRetrySkipsEventInFlight(t *testing.T) {
	sink := &slowFailingSink{}
	d := NewDispatcher([]Sink{sink}, WithRetries(100, time.Hour))
	defer d.Stop()

	id := d.Publish(TypeConversationUpdated, "lead:1", "", map[string]interface{}{"added": 1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ForceRetry(id)
		}()
	}
	wg.Wait()

	waitFor(t, func() bool {
		e, ok := d.EventStatus(id)
		return ok && e.AttemptCount > 0 && atomic.LoadInt32(&sink.active) == 0
	})
	if max := atomic.LoadInt32(&sink.maxActive); max != 1 {
		t.Errorf("Expected one delivery at a time per event, saw %d concurrent", max)
	}
}
