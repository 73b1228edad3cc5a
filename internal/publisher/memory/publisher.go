// Package memory records pipeline events in process for tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/seo-automation/internal/pipeline"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []pipeline.Event
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event pipeline.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded events in publish order.
func (p *Publisher) Events() []pipeline.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]pipeline.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Kinds returns the kind of every recorded event, in order.
func (p *Publisher) Kinds() []string {
	events := p.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
