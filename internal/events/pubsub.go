package events

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubEmitter publishes activity events to a Google Cloud Pub/Sub topic.
type PubSubEmitter struct {
	client *pubsub.Client
}

// NewPubSubEmitter constructs a Pub/Sub emitter for the given project.
func NewPubSubEmitter(ctx context.Context, projectID, credentialsFile string) (*PubSubEmitter, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &PubSubEmitter{client: client}, nil
}

// Emit publishes one event to the activity topic, creating it on first use.
func (p *PubSubEmitter) Emit(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubEmitter) Close() error {
	return p.client.Close()
}

func (p *PubSubEmitter) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	topic := p.client.Topic(Topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, Topic)
	}
	return topic, nil
}
