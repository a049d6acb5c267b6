// Package rabbitmq forwards scheduler and dispatcher events to an AMQP
// queue so external monitoring consumers can tail them. Events are
// fire-and-forget: a publish failure is logged and dropped, never surfaced
// to the emitter.
package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
)

type EventPublisher struct {
	ctx       context.Context
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

func NewEventPublisher(ctx context.Context, amqpURL, queueName string) (*EventPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		err2 := conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		err2 := ch.Close()
		if err2 != nil {
			slog.Error("error occurred while closing channel", "error", err2.Error())
		}
		err2 = conn.Close()
		if err2 != nil {
			slog.Error("error occurred while closing connection", "error", err2.Error())
		}

		return nil, err
	}

	return &EventPublisher{
		ctx:       ctx,
		conn:      conn,
		channel:   ch,
		queueName: queueName,
	}, nil
}

// Notify implements domain.EventSink.
func (p *EventPublisher) Notify(ev domain.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event for publishing", "event", ev.Name, "error", err.Error())
		return
	}

	err = p.channel.PublishWithContext(
		p.ctx,
		"",          // exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		slog.Error("failed to publish event", "event", ev.Name, "error", err.Error())
	}
}

func (p *EventPublisher) IsHealthy() bool {
	if p.conn.IsClosed() {
		slog.Error("RabbitMQ connection is closed, Rabbit is not healthy")
		return false
	}

	ch, err := p.conn.Channel()
	if err != nil {
		slog.Error("Failed to open RabbitMQ channel, Rabbit is not healthy", "error", err)
		return false
	}
	defer func() {
		err = ch.Close()
		if err != nil {
			slog.Error("Error occurred while closing rabbit channel created for health check", "error", err.Error())
		}
	}()

	return true
}

func (p *EventPublisher) Close() error {
	err := p.channel.Close()
	if err != nil {
		return err
	}

	err = p.conn.Close()
	return err
}
