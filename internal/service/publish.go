package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// publish sends an event and only logs a failure.
func publish(ctx context.Context, p events.Publisher, c clock.Clock, eventType string, data any) {
	if p == nil {
		return
	}
	err := p.Publish(ctx, events.Event{Type: eventType, OccurredAt: c.Now(), Data: data})
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
