package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink receives events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event *Event) error
}

// Dispatcher delivers events to every sink in the background and retries sinks that failed.
type Dispatcher struct {
	mu            sync.RWMutex
	sinks         []Sink
	pendingEvents map[string]*Event
	maxRetries    int
	retryBackoff  time.Duration
	timeout       time.Duration
	wg            sync.WaitGroup
	stop          chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetries sets the maximum delivery attempts and the delay between them.
func WithRetries(maxRetries int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if maxRetries > 0 {
			d.maxRetries = maxRetries
		}
		if backoff > 0 {
			d.retryBackoff = backoff
		}
	}
}

// WithDeliveryTimeout bounds one delivery attempt.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher and starts its retry loop. With no sinks events are
// dropped after a debug log.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:         sinks,
		pendingEvents: make(map[string]*Event),
		maxRetries:    3,
		retryBackoff:  2 * time.Second,
		timeout:       10 * time.Second,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.processRetries()

	log.Info().
		Int("sinks", len(sinks)).
		Int("maxRetries", d.maxRetries).
		Dur("timeout", d.timeout).
		Msg("Event dispatcher initialized")
	return d
}

// Publish builds an event and dispatches it.
func (d *Dispatcher) Publish(eventType, clientRef, sessionID string, payload map[string]interface{}) string {
	if !IsValidType(eventType) {
		log.Warn().Str("eventType", eventType).Msg("Refusing to publish unknown event type")
		return ""
	}
	event := &Event{
		Type:      eventType,
		ClientRef: clientRef,
		SessionID: sessionID,
		Payload:   payload,
	}
	d.Dispatch(event)
	return event.ID
}

// Dispatch queues event for delivery and returns immediately.
func (d *Dispatcher) Dispatch(event *Event) {
	if len(d.sinks) == 0 {
		log.Debug().Str("eventType", event.Type).Msg("No event sinks configured, dropping event")
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = d.now().UTC()
	event.Status = DeliveryStatusPending
	event.delivered = make(map[string]bool, len(d.sinks))

	select {
	case <-d.stop:
		log.Warn().Str("eventID", event.ID).Msg("Dispatcher stopped, dropping event")
		return
	default:
	}

	d.mu.Lock()
	event.inFlight = true
	d.pendingEvents[event.ID] = event
	d.mu.Unlock()

	log.Debug().Str("eventID", event.ID).Str("eventType", event.Type).Str("client", event.ClientRef).Msg("Dispatching event")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.processDelivery(event)
	}()
}

// processDelivery delivers to every sink that has not yet accepted the event. The caller
// marks the event in flight; sinks receive a copy taken under the lock.
func (d *Dispatcher) processDelivery(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	d.mu.RLock()
	var targets []Sink
	for _, s := range d.sinks {
		if !event.delivered[s.Name()] {
			targets = append(targets, s)
		}
	}
	snapshot := event.copy()
	d.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan DeliveryResult, len(targets))
	for _, s := range targets {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			start := time.Now()
			err := s.Deliver(ctx, snapshot)
			res := DeliveryResult{Sink: s.Name(), Success: err == nil, Timestamp: start, Duration: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			results <- res
		}(s)
	}
	wg.Wait()
	close(results)

	d.mu.Lock()
	defer d.mu.Unlock()
	event.inFlight = false

	allSuccess := true
	for res := range results {
		if res.Success {
			event.delivered[res.Sink] = true
			continue
		}
		allSuccess = false
		event.LastError = res.Error
		log.Error().Str("eventID", event.ID).Str("sink", res.Sink).Str("error", res.Error).Msg("Event delivery failed")
	}

	if allSuccess {
		event.Status = DeliveryStatusDelivered
		delete(d.pendingEvents, event.ID)
		log.Debug().Str("eventID", event.ID).Msg("Event delivered to all sinks")
		return
	}

	event.AttemptCount++
	if event.AttemptCount >= d.maxRetries {
		event.Status = DeliveryStatusFailed
		delete(d.pendingEvents, event.ID)
		log.Error().Str("eventID", event.ID).Int("attemptCount", event.AttemptCount).Msg("Event delivery failed permanently")
		return
	}
	event.nextTry = d.now().Add(d.retryBackoff)
	log.Warn().
		Str("eventID", event.ID).
		Int("attemptCount", event.AttemptCount).
		Int("maxRetries", d.maxRetries).
		Msg("Event delivery partially failed, will retry")
}

func (d *Dispatcher) processRetries() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.retryBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.retryFailedEvents()
		}
	}
}

func (d *Dispatcher) retryFailedEvents() {
	now := d.now()
	d.mu.Lock()
	var retry []*Event
	for _, event := range d.pendingEvents {
		if !event.inFlight && event.Status == DeliveryStatusPending && event.AttemptCount > 0 && !event.nextTry.IsZero() && now.After(event.nextTry) {
			event.nextTry = time.Time{}
			event.inFlight = true
			retry = append(retry, event)
		}
	}
	d.mu.Unlock()

	for _, event := range retry {
		log.Info().Str("eventID", event.ID).Int("attemptCount", event.AttemptCount).Msg("Retrying failed event delivery")
		d.wg.Add(1)
		go func(e *Event) {
			defer d.wg.Done()
			d.processDelivery(e)
		}(event)
	}
}

// RetryPending retries every pending event whose backoff has elapsed.
func (d *Dispatcher) RetryPending() {
	d.retryFailedEvents()
}

// ForceRetry resets the attempt count of a pending event and delivers it again now.
// It returns false when the event is unknown, already settled or being delivered.
func (d *Dispatcher) ForceRetry(id string) bool {
	d.mu.Lock()
	event, ok := d.pendingEvents[id]
	if ok && event.inFlight {
		ok = false
	}
	if ok {
		event.AttemptCount = 0
		event.Status = DeliveryStatusPending
		event.nextTry = time.Time{}
		event.inFlight = true
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	log.Info().Str("eventID", id).Msg("Manual retry triggered for event")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.processDelivery(event)
	}()
	return true
}

// Status summarizes the dispatcher for the status endpoint.
type Status struct {
	PendingEvents  int   `json:"pending_events"`
	Sinks          int   `json:"sinks"`
	MaxRetries     int   `json:"max_retries"`
	TimeoutMs      int64 `json:"timeout_ms"`
	RetryBackoffMs int64 `json:"retry_backoff_ms"`
}

// Status returns the current counters.
func (d *Dispatcher) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		PendingEvents:  len(d.pendingEvents),
		Sinks:          len(d.sinks),
		MaxRetries:     d.maxRetries,
		TimeoutMs:      d.timeout.Milliseconds(),
		RetryBackoffMs: d.retryBackoff.Milliseconds(),
	}
}

// EventStatus returns a copy of a pending event.
func (d *Dispatcher) EventStatus(id string) (Event, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.pendingEvents[id]
	if !ok {
		return Event{}, false
	}
	return *e.copy(), true
}

// Stop ends the retry loop and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}
