package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQEmitter publishes activity events to a durable RabbitMQ queue.
type RabbitMQEmitter struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQEmitter dials the broker and declares the activity queue.
func NewRabbitMQEmitter(url string) (*RabbitMQEmitter, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(Topic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQEmitter{conn: conn, channel: ch}, nil
}

// Emit publishes one event to the activity queue.
func (r *RabbitMQEmitter) Emit(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	headers := amqp.Table{}
	for key, value := range attrs {
		headers[key] = value
	}

	messageID := newMessageID()
	err := r.channel.PublishWithContext(ctx, "", Topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   messageID,
		Headers:     headers,
		Body:        data,
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// Close closes the underlying channel and connection.
func (r *RabbitMQEmitter) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func newMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
