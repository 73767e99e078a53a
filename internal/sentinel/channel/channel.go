// Package channel defines the AlertChannel contract (spec.md §4.2) and
// the concrete delivery backends, adapted from the teacher's
// integrations.ChatOpsClient/SlackClient notification senders.
package channel

import (
	"context"
	"fmt"

	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

// AlertChannel delivers a violation to an external system. Send must
// be safe to call concurrently from multiple goroutines.
type AlertChannel interface {
	// Name returns the configured name of this channel.
	Name() string
	// Send delivers v. A non-nil error is always wrapped as
	// *errors.Error with Code ChannelError.
	Send(ctx context.Context, v *sentinel.Violation) error
}

// Registry is a name-keyed set of constructed channels, assembled once
// at Scanner startup.
type Registry struct {
	channels map[string]AlertChannel
}

// NewRegistry builds an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]AlertChannel)}
}

// Register adds a constructed channel.
func (r *Registry) Register(ch AlertChannel) {
	r.channels[ch.Name()] = ch
}

// Get returns the channel for name, or ok=false if unknown.
func (r *Registry) Get(name string) (AlertChannel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Resolve maps a list of channel names to their registered channels,
// returning an error naming the first unknown channel encountered.
func (r *Registry) Resolve(names []string) ([]AlertChannel, error) {
	resolved := make([]AlertChannel, 0, len(names))
	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			return nil, fmt.Errorf("unknown alert channel %q", name)
		}
		resolved = append(resolved, ch)
	}
	return resolved, nil
}
