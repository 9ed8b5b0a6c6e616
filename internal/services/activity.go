package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/walletgate/apiserver/internal/events"
	"github.com/walletgate/apiserver/internal/metrics"
	"github.com/walletgate/apiserver/types"
)

const emitTimeout = 2 * time.Second

// ActivityStore defines the operations the service layer needs from an
// activity store.
type ActivityStore interface {
	Append(ctx context.Context, userID, eventKind string, details map[string]any) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]types.ActivityRecord, error)
}

// ActivityService records user activity. The store write is the durability
// point; when it fails the event is dropped, logged, and counted, but the
// user-visible operation still succeeds. Events are optionally mirrored to
// a broker.
type ActivityService struct {
	log       ActivityStore
	bus       *events.Bus
	logger    *slog.Logger
	collector *metrics.Collector
}

func NewActivityService(log ActivityStore, bus *events.Bus, logger *slog.Logger, collector *metrics.Collector) *ActivityService {
	return &ActivityService{log: log, bus: bus, logger: logger, collector: collector}
}

// History returns a user's activity records in append order.
func (s *ActivityService) History(ctx context.Context, userID string, limit int64) ([]types.ActivityRecord, error) {
	return s.log.ListByUser(ctx, userID, limit)
}

// Record appends one event for userID. It never returns an error.
func (s *ActivityService) Record(ctx context.Context, userID, eventKind string, details map[string]any) {
	if err := s.log.Append(ctx, userID, eventKind, details); err != nil {
		s.logger.Warn("activity append failed",
			slog.String("user_id", userID),
			slog.String("event_kind", eventKind),
			slog.Any("error", err),
		)
		if s.collector != nil {
			s.collector.RecordActivityFailure()
		}
		return
	}
	s.emit(ctx, userID, eventKind, details)
}

func (s *ActivityService) emit(ctx context.Context, userID, eventKind string, details map[string]any) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"userId":    userID,
		"eventKind": eventKind,
		"timestamp": time.Now().UTC(),
		"details":   details,
	})
	if err != nil {
		return
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if _, err := s.bus.Emit(emitCtx, payload, map[string]string{"kind": eventKind}); err != nil {
		s.logger.Warn("activity event emit failed",
			slog.String("event_kind", eventKind),
			slog.Any("error", err),
		)
	}
}
