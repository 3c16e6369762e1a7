package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/meridianhq/billing-ledger/internal/model"
	xhttp "github.com/meridianhq/billing-ledger/pkg/http"
	"github.com/meridianhq/billing-ledger/pkg/logger"
)

// EventPublisher enqueues rail events for asynchronous processing.
type EventPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// WebhookHandler accepts webhook deliveries from the payment rail and
// hands them to the queue. Processing happens asynchronously so the
// rail gets its 2xx before any ledger work runs; the rail retries on
// anything else.
type WebhookHandler struct {
	publisher EventPublisher
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/stripe", h.HandleStripeEvent)
}

func NewWebhookHandler(publisher EventPublisher) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
	}
}

func (h *WebhookHandler) HandleStripeEvent(ctx *xhttp.RequestCtx) {
	var event model.RailEvent
	if err := readJSON(ctx, &event); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := event.Validate(); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	id, err := h.publisher.PublishJSON(ctx, event, map[string]string{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	if err != nil {
		logger.Error("failed to enqueue rail event", "event_id", event.ID, "error", err)
		writeError(ctx, 500, "failed to enqueue event")
		return
	}

	writeJSON(ctx, 202, map[string]string{"queued": id})
}
