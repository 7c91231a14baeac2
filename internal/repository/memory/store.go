// Package memory provides in-process implementations of the repository contracts.
// They mirror the field-scoped semantics of the Postgres repositories and back the
// dispatcher and service tests.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/repository"
)

// CampaignStore is a map-backed repository.CampaignRepository.
type CampaignStore struct {
	mu     sync.Mutex
	items  map[string]*domain.Campaign
	writes int
}

// NewCampaignStore seeds a store with the given campaigns.
func NewCampaignStore(seed ...*domain.Campaign) *CampaignStore {
	s := &CampaignStore{items: make(map[string]*domain.Campaign)}
	for _, c := range seed {
		s.items[c.ID] = c.Clone()
	}
	return s
}

// Writes counts successful mutations.
func (s *CampaignStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Snapshot returns a copy of the stored campaign, or nil.
func (s *CampaignStore) Snapshot(id string) *domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.items[id]; ok {
		return c.Clone()
	}
	return nil
}

func (s *CampaignStore) Create(_ context.Context, campaign *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[campaign.ID]; exists {
		return repository.ErrConflict
	}
	s.items[campaign.ID] = campaign.Clone()
	s.writes++
	return nil
}

func (s *CampaignStore) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *CampaignStore) List(_ context.Context, limit int) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(a, b *domain.Campaign) bool { return a.CreatedAt.After(b.CreatedAt) }, nil)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CampaignStore) ListByStatus(_ context.Context, statuses []domain.CampaignStatus) ([]*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(statuses) == 0 {
		return nil, nil
	}
	want := make(map[domain.CampaignStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.sorted(func(a, b *domain.Campaign) bool { return a.CreatedAt.Before(b.CreatedAt) },
		func(c *domain.Campaign) bool { return want[c.Status] }), nil
}

func (s *CampaignStore) UpdateContent(_ context.Context, id string, patch repository.CampaignPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Message != nil {
		c.Message = *patch.Message
	}
	if patch.MediaURL != nil {
		c.MediaURL = *patch.MediaURL
	}
	if patch.MediaFormat != nil {
		c.MediaFormat = *patch.MediaFormat
	}
	if patch.TargetType != nil {
		c.TargetType = *patch.TargetType
	}
	if patch.SelectedContacts != nil {
		c.SelectedContacts = append([]string{}, (*patch.SelectedContacts)...)
	}
	if patch.Channels != nil {
		c.Channels = make(map[domain.Channel]bool, len(*patch.Channels))
		for k, v := range *patch.Channels {
			c.Channels[k] = v
		}
	}
	if patch.ScheduledAt != nil {
		if *patch.ScheduledAt == "" {
			c.ScheduledAt = nil
		} else {
			v := *patch.ScheduledAt
			c.ScheduledAt = &v
		}
	}
	if patch.ScheduledDates != nil {
		c.ScheduledDates = append([]string{}, (*patch.ScheduledDates)...)
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	c.UpdatedAt = patch.UpdatedAt
	s.writes++
	return nil
}

func (s *CampaignStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.items, id)
	s.writes++
	return nil
}

func (s *CampaignStore) ApplyDispatch(_ context.Context, id string, update repository.DispatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = update.Status
	c.UpdatedAt = update.UpdatedAt
	if update.Results != nil {
		c.Results = (&domain.Campaign{Results: update.Results}).Clone().Results
	}
	if len(update.AddSentDates) > 0 {
		c.SentDates = domain.UnionOrdered(c.SentDates, update.AddSentDates...)
	}
	if update.RetryCounts != nil {
		c.RetryCounts = update.RetryCounts.Clone()
	}
	if update.LastProcessedAt != nil {
		t := *update.LastProcessedAt
		c.LastProcessedAt = &t
	}
	s.writes++
	return nil
}

func (s *CampaignStore) Launch(_ context.Context, id string, results []domain.ResultRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = domain.CampaignStatusSending
	c.Results = append([]domain.ResultRecord{}, results...)
	c.UpdatedAt = at
	s.writes++
	return nil
}

func (s *CampaignStore) MarkResultSent(_ context.Context, id, contactID string, channel domain.Channel, at time.Time) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	idx := c.FindResult(contactID, channel)
	if idx < 0 {
		return nil, repository.ErrNotFound
	}
	sentAt := at
	c.Results[idx].Status = domain.ResultSent
	c.Results[idx].SentAt = &sentAt
	if c.AllResultsSent() {
		c.Status = domain.CampaignStatusCompleted
		c.UpdatedAt = at
	}
	s.writes++
	return c.Clone(), nil
}

func (s *CampaignStore) sorted(less func(a, b *domain.Campaign) bool, keep func(*domain.Campaign) bool) []*domain.Campaign {
	out := make([]*domain.Campaign, 0, len(s.items))
	for _, c := range s.items {
		if keep == nil || keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return less(out[i], out[j])
	})
	return out
}

// ContactStore is a slice-backed repository.ContactDirectory.
type ContactStore struct {
	mu       sync.Mutex
	contacts []domain.Contact
	err      error
}

// NewContactStore seeds the directory.
func NewContactStore(contacts ...domain.Contact) *ContactStore {
	return &ContactStore{contacts: append([]domain.Contact(nil), contacts...)}
}

// FailWith makes every subsequent lookup return err.
func (s *ContactStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *ContactStore) All(context.Context) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Contact(nil), s.contacts...), nil
}

func (s *ContactStore) ByIDs(_ context.Context, ids []string) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	want := domain.NewStringSet(ids...)
	var out []domain.Contact
	for _, c := range s.contacts {
		if want.Has(c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// AttemptLog keeps attempts in append order. Paging state is an opaque offset.
type AttemptLog struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
}

// NewAttemptLog constructs an empty log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{}
}

func (l *AttemptLog) Append(_ context.Context, attempt domain.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	return nil
}

// All returns every recorded attempt.
func (l *AttemptLog) All() []domain.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DeliveryAttempt(nil), l.attempts...)
}

func (l *AttemptLog) ListByCampaign(_ context.Context, campaignID string, limit int, pagingState []byte) ([]domain.DeliveryAttempt, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if len(pagingState) > 0 {
		raw, err := base64.RawURLEncoding.DecodeString(string(pagingState))
		if err != nil {
			return nil, nil, fmt.Errorf("memory attempt log: paging state: %w", err)
		}
		if offset, err = strconv.Atoi(string(raw)); err != nil {
			return nil, nil, fmt.Errorf("memory attempt log: paging state: %w", err)
		}
	}

	var matched []domain.DeliveryAttempt
	for i := len(l.attempts) - 1; i >= 0; i-- {
		if l.attempts[i].CampaignID == campaignID {
			matched = append(matched, l.attempts[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil, nil
	}
	end := offset + limit
	if end >= len(matched) {
		return matched[offset:], nil, nil
	}
	next := base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(end)))
	return matched[offset:end], []byte(next), nil
}

var (
	_ repository.CampaignRepository = (*CampaignStore)(nil)
	_ repository.ContactDirectory   = (*ContactStore)(nil)
	_ repository.AttemptLog         = (*AttemptLog)(nil)
)
