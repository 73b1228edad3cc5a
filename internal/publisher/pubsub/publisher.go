// Package pubsub fans pipeline events out over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher *pubsub.Publisher
	ordered   bool
}

// New creates a Publisher. When ordered is set, events for the same project share an
// ordering key; the topic publisher must have message ordering enabled.
func New(publisher *pubsub.Publisher, ordered bool) *Publisher {
	return &Publisher{publisher: publisher, ordered: ordered}
}

// Publish marshals the event to JSON and publishes it with trace context attached.
func (p *Publisher) Publish(ctx context.Context, event pipeline.Event) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := newMessage(ctx, event, p.ordered)
	if err != nil {
		return "", err
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return id, nil
}

func newMessage(ctx context.Context, event pipeline.Event, ordered bool) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":       event.Kind,
			"project_id": event.ProjectID,
		},
	}
	if ordered {
		msg.OrderingKey = event.ProjectID
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})
	return msg, nil
}

// attributeCarrier implements propagation.TextMapCarrier over message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
