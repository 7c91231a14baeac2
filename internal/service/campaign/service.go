package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/repository"
	"github.com/afroboost/campaign-scheduler/internal/service/common"
	apperrors "github.com/afroboost/campaign-scheduler/pkg/errors"
)

const (
	defaultMediaFormat = "16:9"
	defaultListLimit   = 100
)

// launchChannelOrder fixes the order of result records built by Launch.
var launchChannelOrder = []domain.Channel{domain.ChannelWhatsApp, domain.ChannelEmail, domain.ChannelInstagram}

// Service orchestrates campaign management operations. It never writes the
// dispatcher-owned fields (sent dates, retry counters, last processed time).
type Service struct {
	repo     repository.CampaignRepository
	contacts repository.ContactDirectory
	attempts repository.AttemptLog
	now      func() time.Time
}

// NewService constructs a campaign service.
func NewService(repo repository.CampaignRepository, contacts repository.ContactDirectory, attempts repository.AttemptLog) *Service {
	if attempts == nil {
		attempts = repository.NopAttemptLog{}
	}
	return &Service{
		repo:     repo,
		contacts: contacts,
		attempts: attempts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name             string
	Message          string
	MediaURL         string
	MediaFormat      string
	TargetType       domain.TargetType
	SelectedContacts []string
	Channels         map[domain.Channel]bool
	ScheduledAt      *string
	ScheduledDates   []string
}

// UpdateCampaignInput captures updatable properties. Nil fields are left unchanged.
type UpdateCampaignInput struct {
	ID               string
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
}

// AttemptPage is one page of the delivery attempt log.
type AttemptPage struct {
	Attempts  []domain.DeliveryAttempt
	NextToken string
}

// DefaultChannels is applied when a campaign is created without channel flags.
func DefaultChannels() map[domain.Channel]bool {
	return map[domain.Channel]bool{
		domain.ChannelWhatsApp:  true,
		domain.ChannelEmail:     false,
		domain.ChannelInstagram: false,
	}
}

// Create provisions a new campaign. It starts scheduled when any send date is given.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.now()
	campaign := &domain.Campaign{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(input.Name),
		Message:          input.Message,
		MediaURL:         input.MediaURL,
		MediaFormat:      input.MediaFormat,
		TargetType:       input.TargetType,
		SelectedContacts: nonNil(input.SelectedContacts),
		Channels:         input.Channels,
		ScheduledDates:   nonNil(input.ScheduledDates),
		SentDates:        []string{},
		Results:          []domain.ResultRecord{},
		RetryCounts:      domain.RetryCounts{},
		Status:           domain.CampaignStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if input.ScheduledAt != nil && *input.ScheduledAt != "" {
		v := *input.ScheduledAt
		campaign.ScheduledAt = &v
	}
	if campaign.MediaFormat == "" {
		campaign.MediaFormat = defaultMediaFormat
	}
	if campaign.TargetType == "" {
		campaign.TargetType = domain.TargetAll
	}
	if campaign.Channels == nil {
		campaign.Channels = DefaultChannels()
	}
	if len(campaign.EffectiveScheduledDates()) > 0 {
		campaign.Status = domain.CampaignStatusScheduled
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, limit)
}

// Update applies a partial update to content, targeting and scheduling fields.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	if err := validateUpdateInput(input); err != nil {
		return nil, err
	}

	patch := repository.CampaignPatch{
		Name:             input.Name,
		Message:          input.Message,
		MediaURL:         input.MediaURL,
		MediaFormat:      input.MediaFormat,
		TargetType:       input.TargetType,
		SelectedContacts: input.SelectedContacts,
		Channels:         input.Channels,
		ScheduledAt:      input.ScheduledAt,
		ScheduledDates:   input.ScheduledDates,
		Status:           input.Status,
		UpdatedAt:        s.now(),
	}
	if err := s.repo.UpdateContent(ctx, input.ID, patch); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, input.ID)
}

// Delete removes a campaign.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Launch builds one pending result per targeted contact and enabled channel and
// moves the campaign to sending.
func (s *Service) Launch(ctx context.Context, id string) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == "" {
		return nil, fmt.Errorf("%w: campaign %s has an unreadable record", apperrors.ErrInvalidState, id)
	}

	var contacts []domain.Contact
	if campaign.TargetType == domain.TargetAll {
		contacts, err = s.contacts.All(ctx)
	} else {
		contacts, err = s.contacts.ByIDs(ctx, campaign.SelectedContacts)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign service: resolve contacts: %w", err)
	}

	results := make([]domain.ResultRecord, 0, len(contacts))
	for _, contact := range contacts {
		for _, ch := range launchChannelOrder {
			if !campaign.ChannelEnabled(ch) {
				continue
			}
			results = append(results, domain.ResultRecord{
				ContactID:    contact.ID,
				ContactName:  contact.Name,
				ContactEmail: contact.Email,
				ContactPhone: contact.Phone,
				Channel:      ch,
				Status:       domain.ResultPending,
			})
		}
	}

	if err := s.repo.Launch(ctx, id, results, s.now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// MarkSent records an externally confirmed delivery and completes the campaign
// once every result is sent.
func (s *Service) MarkSent(ctx context.Context, id, contactID string, channel domain.Channel) (*domain.Campaign, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, fmt.Errorf("%w: contactId is required", apperrors.ErrValidation)
	}
	if !validChannel(channel) {
		return nil, fmt.Errorf("%w: unknown channel %q", apperrors.ErrValidation, channel)
	}
	return s.repo.MarkResultSent(ctx, id, contactID, channel, s.now())
}

// ListAttempts pages through the delivery attempt log of a campaign.
func (s *Service) ListAttempts(ctx context.Context, id string, limit int, pageToken string) (AttemptPage, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return AttemptPage{}, err
	}

	state, err := common.DecodePageToken(pageToken)
	if err != nil {
		return AttemptPage{}, err
	}

	attempts, next, err := s.attempts.ListByCampaign(ctx, id, limit, state)
	if err != nil {
		return AttemptPage{}, fmt.Errorf("campaign service: list attempts: %w", err)
	}
	return AttemptPage{Attempts: attempts, NextToken: common.EncodePageToken(next)}, nil
}

func validateCreateInput(input CreateCampaignInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Message) == "" {
		return fmt.Errorf("%w: campaign message is required", apperrors.ErrValidation)
	}
	if err := validateMediaFormat(input.MediaFormat); err != nil {
		return err
	}
	if input.TargetType != "" {
		if err := validateTargetType(input.TargetType); err != nil {
			return err
		}
	}
	if err := validateChannels(input.Channels); err != nil {
		return err
	}
	if input.ScheduledAt != nil && *input.ScheduledAt != "" {
		if err := validateDates([]string{*input.ScheduledAt}); err != nil {
			return err
		}
	}
	return validateDates(input.ScheduledDates)
}

func validateUpdateInput(input UpdateCampaignInput) error {
	if strings.TrimSpace(input.ID) == "" {
		return fmt.Errorf("%w: campaign id is required", apperrors.ErrValidation)
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return fmt.Errorf("%w: campaign name cannot be empty", apperrors.ErrValidation)
	}
	if input.MediaFormat != nil {
		if err := validateMediaFormat(*input.MediaFormat); err != nil {
			return err
		}
	}
	if input.TargetType != nil {
		if err := validateTargetType(*input.TargetType); err != nil {
			return err
		}
	}
	if input.Channels != nil {
		if err := validateChannels(*input.Channels); err != nil {
			return err
		}
	}
	if input.ScheduledAt != nil && *input.ScheduledAt != "" {
		if err := validateDates([]string{*input.ScheduledAt}); err != nil {
			return err
		}
	}
	if input.ScheduledDates != nil {
		if err := validateDates(*input.ScheduledDates); err != nil {
			return err
		}
	}
	if input.Status != nil {
		if _, ok := domain.ParseCampaignStatus(string(*input.Status)); !ok {
			return fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, *input.Status)
		}
	}
	return nil
}

func validateMediaFormat(format string) error {
	switch format {
	case "", "16:9", "9:16":
		return nil
	default:
		return fmt.Errorf("%w: media format must be 16:9 or 9:16", apperrors.ErrValidation)
	}
}

func validateTargetType(t domain.TargetType) error {
	if t != domain.TargetAll && t != domain.TargetSelected {
		return fmt.Errorf("%w: target type must be all or selected", apperrors.ErrValidation)
	}
	return nil
}

func validateChannels(channels map[domain.Channel]bool) error {
	for ch := range channels {
		if !validChannel(ch) {
			return fmt.Errorf("%w: unknown channel %q", apperrors.ErrValidation, ch)
		}
	}
	return nil
}

func validateDates(dates []string) error {
	for _, d := range dates {
		if _, err := domain.ParseScheduledDate(d); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
		}
	}
	return nil
}

func validChannel(ch domain.Channel) bool {
	switch ch {
	case domain.ChannelEmail, domain.ChannelWhatsApp, domain.ChannelInstagram:
		return true
	default:
		return false
	}
}

func nonNil(v []string) []string {
	out := make([]string, len(v))
	copy(out, v)
	return out
}
