package worker

import (
	"context"

	"github.com/goccy/go-json"

	"ingest_server/core/service/credentials"
	"ingest_server/core/service/ingest"
	"ingest_server/core/service/subscription"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// Handler routes queued jobs to the pipeline services.
type Handler struct {
	ingest *ingest.Service
	subs   *subscription.Manager
	creds  *credentials.Store
}

func NewHandler(ingestService *ingest.Service, subs *subscription.Manager, creds *credentials.Store) *Handler {
	return &Handler{
		ingest: ingestService,
		subs:   subs,
		creds:  creds,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing job: %s", msg.Type)

	switch msg.Type {
	case JobGoogleNotification:
		payload, err := ParsePayload[GoogleNotificationPayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed google notification payload").WithError(err)
		}
		return h.ingest.HandleGoogleNotification(ctx, payload.EmailAddress, payload.HistoryID, payload.AckID)

	case JobGraphMailChange:
		payload, err := ParsePayload[GraphChangePayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed graph change payload").WithError(err)
		}
		return h.ingest.HandleMicrosoftMailChange(ctx, payload.SubscriptionID, payload.ChangeType, payload.ResourceID)

	case JobGraphContactChange:
		payload, err := ParsePayload[GraphChangePayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed graph change payload").WithError(err)
		}
		return h.ingest.HandleContactChange(ctx, payload.SubscriptionID, payload.ChangeType, payload.ResourceID)

	case JobGraphLifecycle:
		payload, err := ParsePayload[GraphLifecyclePayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed lifecycle payload").WithError(err)
		}
		return h.subs.HandleLifecycle(ctx, payload.SubscriptionID, payload.Event)

	case JobBacklogSync:
		payload, err := ParsePayload[BacklogPayload](msg)
		if err != nil {
			return apperr.BadRequest("malformed backlog payload").WithError(err)
		}
		account, err := h.creds.GetByID(ctx, payload.SocialAPIID)
		if err != nil {
			return err
		}
		return h.ingest.ProcessBacklog(ctx, account, payload.Limit)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
