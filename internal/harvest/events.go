package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is published after every phase.
type Event struct {
	RunID      string    `json:"run_id"`
	Phase      Phase     `json:"phase"`
	Items      int       `json:"items"`
	Failed     int       `json:"failed"`
	Warnings   int       `json:"warnings"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

func (h *Harvester) publish(ctx context.Context, runID uuid.UUID, pr PhaseReport) {
	if h.deps.Publisher == nil || h.cfg.Topic == "" {
		return
	}
	event := Event{
		RunID:      runID.String(),
		Phase:      pr.Phase,
		Items:      pr.Items,
		Failed:     pr.Failed,
		Warnings:   pr.Warnings,
		DurationMS: pr.Duration.Milliseconds(),
		FinishedAt: pr.FinishedAt,
		Error:      pr.Error,
	}
	id, err := h.deps.Publisher.Publish(context.WithoutCancel(ctx), h.cfg.Topic, event)
	if err != nil {
		h.logger.Warn("publish phase event", zap.String("phase", string(pr.Phase)), zap.Error(err))
		return
	}
	h.logger.Debug("phase event published", zap.String("phase", string(pr.Phase)), zap.String("message_id", id))
}
