package repository

import (
	"context"
	"time"

	"github.com/afroboost/campaign-scheduler/internal/domain"
	apperrors "github.com/afroboost/campaign-scheduler/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence. Every mutating method touches only
// the columns it names so that dispatcher and management writes do not clobber each other.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, statuses []domain.CampaignStatus) ([]*domain.Campaign, error)
	UpdateContent(ctx context.Context, id string, patch CampaignPatch) error
	Delete(ctx context.Context, id string) error
	ApplyDispatch(ctx context.Context, id string, update DispatchUpdate) error
	Launch(ctx context.Context, id string, results []domain.ResultRecord, at time.Time) error
	MarkResultSent(ctx context.Context, id, contactID string, channel domain.Channel, at time.Time) (*domain.Campaign, error)
}

// ContactDirectory reads the user directory.
type ContactDirectory interface {
	All(ctx context.Context) ([]domain.Contact, error)
	ByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
}

// AttemptLog records delivery attempts for auditing.
type AttemptLog interface {
	Append(ctx context.Context, attempt domain.DeliveryAttempt) error
	ListByCampaign(ctx context.Context, campaignID string, limit int, pagingState []byte) ([]domain.DeliveryAttempt, []byte, error)
}

// DispatchUpdate carries the dispatcher-owned fields of one campaign commit.
// Nil slices/maps leave the corresponding column untouched.
type DispatchUpdate struct {
	Status          domain.CampaignStatus
	Results         []domain.ResultRecord
	AddSentDates    []string
	RetryCounts     domain.RetryCounts
	UpdatedAt       time.Time
	LastProcessedAt *time.Time
}

// CampaignPatch carries management-owned fields. Nil pointers are left unchanged;
// a ScheduledAt pointing at "" clears the single scheduled instant.
type CampaignPatch struct {
	Name             *string
	Message          *string
	MediaURL         *string
	MediaFormat      *string
	TargetType       *domain.TargetType
	SelectedContacts *[]string
	Channels         *map[domain.Channel]bool
	ScheduledAt      *string
	ScheduledDates   *[]string
	Status           *domain.CampaignStatus
	UpdatedAt        time.Time
}

// NopAttemptLog discards attempts. Used when no attempt store is configured.
type NopAttemptLog struct{}

func (NopAttemptLog) Append(context.Context, domain.DeliveryAttempt) error { return nil }

func (NopAttemptLog) ListByCampaign(context.Context, string, int, []byte) ([]domain.DeliveryAttempt, []byte, error) {
	return nil, nil, nil
}
