package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/afroboost/campaign-scheduler/internal/domain"
)

// AttemptStore persists delivery attempts in Scylla, partitioned by campaign.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// Append records one attempt.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	if err := s.session.Query(`INSERT INTO delivery_attempts_by_campaign (campaign_id, attempted_at, attempt_id, contact_id, channel, attempt, ok, error, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CampaignID, attempt.AttemptedAt, attempt.ID, attempt.ContactID, string(attempt.Channel),
		attempt.Attempt, attempt.OK, attempt.Error, attempt.DryRun,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: insert: %w", err)
	}
	return nil
}

// ListByCampaign pages through a campaign's attempts, newest first.
func (s *AttemptStore) ListByCampaign(ctx context.Context, campaignID string, limit int, pagingState []byte) ([]domain.DeliveryAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT attempted_at, attempt_id, contact_id, channel, attempt, ok, error, dry_run
		FROM delivery_attempts_by_campaign WHERE campaign_id = ?`, campaignID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.DeliveryAttempt, 0, limit)

	var (
		attemptedAt time.Time
		attemptID   string
		contactID   string
		channel     string
		n           int
		ok          bool
		errText     string
		dryRun      bool
	)

	for iter.Scan(&attemptedAt, &attemptID, &contactID, &channel, &n, &ok, &errText, &dryRun) {
		attempts = append(attempts, domain.DeliveryAttempt{
			ID:          attemptID,
			CampaignID:  campaignID,
			ContactID:   contactID,
			Channel:     domain.Channel(channel),
			Attempt:     n,
			OK:          ok,
			Error:       errText,
			DryRun:      dryRun,
			AttemptedAt: attemptedAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, iter.PageState(), nil
}
