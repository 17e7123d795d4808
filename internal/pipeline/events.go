package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// CommitEvent announces one committed record to downstream consumers.
type CommitEvent struct {
	RunID       string     `json:"run_id,omitempty"`
	Source      string     `json:"source"`
	ExternalID  string     `json:"external_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Inserted    bool       `json:"inserted"`
	CommittedAt time.Time  `json:"committed_at"`
}

func (r *Runner) publish(ctx context.Context, runID string, def ingest.SourceDefinition, rec ingest.Record, inserted bool, logger *zap.Logger) {
	if r.deps.Publisher == nil {
		return
	}
	event := CommitEvent{
		RunID:       runID,
		Source:      def.Name,
		ExternalID:  rec.ExternalID,
		URL:         rec.URL,
		Title:       rec.Title,
		Status:      rec.Status,
		PublishedAt: rec.PublishedAt,
		Inserted:    inserted,
		CommittedAt: r.deps.Clock.Now(),
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		logger.Warn("publish commit event failed", zap.String("external_id", rec.ExternalID), zap.Error(err))
	}
}
