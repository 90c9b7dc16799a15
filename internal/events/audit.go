package events

import (
	"context"

	"go.uber.org/zap"
)

// RegisterAuditLog subscribes a logging handler for every ticket event.
func RegisterAuditLog(dispatcher Dispatcher, logger *zap.Logger) {
	handler := func(_ context.Context, event Event) error {
		logger.Info("ticket event",
			zap.String("type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.String("actor_id", event.Actor.UserID),
			zap.String("actor_role", string(event.Actor.Role)),
			zap.Any("payload", event.Payload),
		)
		return nil
	}

	for _, eventType := range []EventType{EventTicketCreated, EventTicketAssigned, EventTicketStatusChanged} {
		dispatcher.Subscribe(eventType, handler)
	}
}
