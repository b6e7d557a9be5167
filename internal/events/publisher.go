// Package events holds publishers that are not tied to a broker.
package events

import "context"

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, topic string, key string, event any) error {
	return nil
}
