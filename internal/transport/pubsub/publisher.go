// Package pubsub publishes task triggers to a Google Cloud Pub/Sub topic.
// Inbound delivery uses a push subscription pointed at the worker's HTTP route.
package pubsub

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/naka0519/TownReady/internal/transport"
)

// Publisher publishes to one topic
type Publisher struct {
	client *gpubsub.Client
	topic  *gpubsub.Topic
}

// NewPublisher connects to project and binds to an existing topic
func NewPublisher(ctx context.Context, project, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	client, err := gpubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(topicID)}, nil
}

// Publish implements transport.Publisher and waits for the server ack
func (p *Publisher) Publish(ctx context.Context, msg transport.Message) error {
	body, attrs, err := transport.Encode(msg)
	if err != nil {
		return err
	}

	res := p.topic.Publish(ctx, &gpubsub.Message{Data: body, Attributes: attrs})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish %s for job %s: %w", msg.Task, msg.JobID, err)
	}
	return nil
}

// Close flushes pending messages and releases the client
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
