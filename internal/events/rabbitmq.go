package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher writes events to one durable queue per event type.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	prefix   string
	declared map[string]bool
}

// NewRabbitPublisher dials url and opens a channel.
func NewRabbitPublisher(url, prefix string) (*RabbitPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("RabbitMQ URL cannot be empty")
	}
	if prefix == "" {
		prefix = "crm_inbox"
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	log.Info().Str("prefix", prefix).Msg("RabbitMQ connection established")

	return &RabbitPublisher{
		conn:     conn,
		channel:  ch,
		prefix:   prefix,
		declared: make(map[string]bool),
	}, nil
}

// QueueName returns the queue for an event type, e.g. crm_inbox_conversation_updated.
func QueueName(prefix, eventType string) string {
	name := strings.ToLower(strings.ReplaceAll(eventType, ".", "_"))
	return prefix + "_" + name
}

// Name identifies the sink in delivery results.
func (p *RabbitPublisher) Name() string {
	return "rabbitmq"
}

// Deliver publishes event as JSON to its queue, declaring the queue on first use.
func (p *RabbitPublisher) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	queue := QueueName(p.prefix, event.Type)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if _, err := p.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue")
			return fmt.Errorf("could not declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	err = p.channel.PublishWithContext(ctx,
		"",    // exchange (default)
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.ID,
			Type:         event.Type,
			Timestamp:    event.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("eventID", event.ID).Msg("Published event to RabbitMQ")
	return nil
}

// Close closes the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
