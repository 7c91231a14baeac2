package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroboost/campaign-scheduler/internal/delivery"
	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/queue"
	"github.com/afroboost/campaign-scheduler/internal/repository/memory"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  bool
	calls []delivery.Message
}

func (s *fakeSender) Send(_ context.Context, msg delivery.Message) delivery.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if s.fail {
		return delivery.Result{Error: "HTTP 503: unavailable"}
	}
	return delivery.Result{OK: true}
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingPublisher struct {
	events []queue.CampaignEvent
	err    error
}

func (p *recordingPublisher) PublishCampaignEvent(_ context.Context, e queue.CampaignEvent) error {
	p.events = append(p.events, e)
	return p.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

var (
	d1 = "2024-01-01T00:00:00Z"
	d2 = "2024-01-02T00:00:00Z"
	d3 = "2024-01-03T00:00:00Z"
	d4 = "2024-01-04T00:00:00Z"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func emailCampaign(id string, dates ...string) *domain.Campaign {
	return &domain.Campaign{
		ID:             id,
		Name:           "Promo " + id,
		Message:        "Hello",
		TargetType:     domain.TargetAll,
		Channels:       map[domain.Channel]bool{domain.ChannelEmail: true},
		ScheduledDates: dates,
		Status:         domain.CampaignStatusScheduled,
		RetryCounts:    domain.RetryCounts{},
		CreatedAt:      at(d1).Add(-time.Hour),
	}
}

type harness struct {
	store     *memory.CampaignStore
	contacts  *memory.ContactStore
	sender    *fakeSender
	attempts  *memory.AttemptLog
	publisher *recordingPublisher
	clock     *clock
	dryRun    bool
}

func newHarness(campaigns []*domain.Campaign, contacts ...domain.Contact) *harness {
	return &harness{
		store:     memory.NewCampaignStore(campaigns...),
		contacts:  memory.NewContactStore(contacts...),
		sender:    &fakeSender{},
		attempts:  memory.NewAttemptLog(),
		publisher: &recordingPublisher{},
		clock:     &clock{now: at(d1).Add(time.Minute)},
	}
}

func (h *harness) dispatcher() *Dispatcher {
	return NewDispatcher(h.store, h.contacts, h.sender, h.attempts, h.publisher, nil, Options{
		DryRun:        h.dryRun,
		SubjectPrefix: "📢 ",
		Now:           h.clock.Now,
	})
}

func (h *harness) sweep(t *testing.T) SweepReport {
	t.Helper()
	report, err := h.dispatcher().Sweep(context.Background())
	require.NoError(t, err)
	return report
}

var ada = domain.Contact{ID: "u1", Name: "Ada", Email: "ada@example.com"}

func TestSweepSingleDateSuccessCompletes(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, ada)

	report := h.sweep(t)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Successes)
	assert.Zero(t, report.Failures)

	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, []string{d1}, got.SentDates)
	require.Len(t, got.Results, 1)
	assert.Equal(t, domain.ResultSent, got.Results[0].Status)
	assert.Equal(t, domain.ChannelEmail, got.Results[0].Channel)
	require.NotNil(t, got.LastProcessedAt)

	require.Len(t, h.sender.calls, 1)
	assert.Equal(t, "📢 Promo c1", h.sender.calls[0].Subject)
	assert.Equal(t, "ada@example.com", h.sender.calls[0].ToEmail)
}

func TestSweepNothingDueLeavesCampaignUntouched(t *testing.T) {
	c := emailCampaign("c1", d2, d3)
	h := newHarness([]*domain.Campaign{c}, ada)
	before := h.store.Snapshot("c1")

	report := h.sweep(t)

	assert.Zero(t, report.Processed)
	assert.Zero(t, h.store.Writes())
	assert.Equal(t, before, h.store.Snapshot("c1"))
	assert.Zero(t, h.sender.count())
	assert.Empty(t, h.publisher.events)
}

func TestSweepIsIdempotentWithoutTimePassing(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d3)}, ada)

	first := h.sweep(t)
	assert.Equal(t, 1, first.Processed)
	afterFirst := h.store.Snapshot("c1")
	writes := h.store.Writes()

	second := h.sweep(t)
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.Successes)
	assert.Zero(t, second.Failures)
	assert.Equal(t, writes, h.store.Writes())
	assert.Equal(t, afterFirst, h.store.Snapshot("c1"))
	assert.Equal(t, 1, h.sender.count())
}

func TestSweepNeverResendsToSentContact(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d2)}, ada)

	h.sweep(t)
	require.Equal(t, 1, h.sender.count())

	h.clock.now = at(d2).Add(time.Minute)
	report := h.sweep(t)

	assert.Equal(t, 1, h.sender.count(), "already sent contact must not be re-sent")
	assert.Equal(t, 1, report.Successes, "already sent counts as success")
	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.ElementsMatch(t, []string{d1, d2}, got.SentDates)
	assert.Len(t, got.Results, 1)
}

func TestSweepRetryCeiling(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d2, d3, d4)}, ada)
	h.sender.fail = true
	key := domain.DeliveryKey{ContactID: "u1", Channel: domain.ChannelEmail}

	for i, date := range []string{d1, d2, d3} {
		h.clock.now = at(date).Add(time.Minute)
		report := h.sweep(t)
		assert.Equal(t, 1, report.Failures, "sweep %d", i+1)

		got := h.store.Snapshot("c1")
		assert.Equal(t, domain.CampaignStatusFailed, got.Status, "sweep %d", i+1)
		assert.Equal(t, i+1, got.RetryCounts[key], "sweep %d", i+1)
		assert.Empty(t, got.Results, "failed sends leave no result record")
	}
	require.Equal(t, 3, h.sender.count())

	h.clock.now = at(d4).Add(time.Minute)
	report := h.sweep(t)

	assert.Equal(t, 3, h.sender.count(), "no fourth attempt")
	assert.Equal(t, 1, report.Failures, "exhausted contact still counts as failure")
	got := h.store.Snapshot("c1")
	assert.Equal(t, 3, got.RetryCounts[key], "counter does not grow past the ceiling")
	assert.Equal(t, domain.CampaignStatusFailed, got.Status)
	assert.ElementsMatch(t, []string{d1, d2, d3, d4}, got.SentDates)
}

func TestSweepFirstOfTwoDatesDueStaysScheduled(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d3)}, ada)

	h.sweep(t)

	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusScheduled, got.Status)
	assert.Equal(t, []string{d1}, got.SentDates)
}

func TestSweepEmailDisabledFoldsDates(t *testing.T) {
	c := emailCampaign("c1", d1, d2)
	c.Channels = map[domain.Channel]bool{domain.ChannelWhatsApp: true}
	h := newHarness([]*domain.Campaign{c}, ada)

	report := h.sweep(t)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, h.sender.count())
	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusScheduled, got.Status)
	assert.Equal(t, []string{d1}, got.SentDates)
	assert.Nil(t, got.LastProcessedAt)

	h.clock.now = at(d2).Add(time.Minute)
	h.sweep(t)
	got = h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, []string{d1, d2}, got.SentDates)
	assert.Zero(t, h.sender.count())
}

func TestSweepSelectedWithoutMatchesCompletes(t *testing.T) {
	empty := emailCampaign("empty", d1)
	empty.TargetType = domain.TargetSelected
	ghost := emailCampaign("ghost", d1)
	ghost.TargetType = domain.TargetSelected
	ghost.SelectedContacts = []string{"nobody"}
	h := newHarness([]*domain.Campaign{empty, ghost}, ada)

	report := h.sweep(t)

	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.Successes)
	assert.Zero(t, report.Failures)
	for _, id := range []string{"empty", "ghost"} {
		got := h.store.Snapshot(id)
		assert.Equal(t, domain.CampaignStatusCompleted, got.Status, id)
		assert.Empty(t, got.Results, id)
		assert.Empty(t, got.SentDates, id)
	}
	assert.Zero(t, h.sender.count())
}

func TestSweepSelectedTargetsOnlyListedContacts(t *testing.T) {
	c := emailCampaign("c1", d1)
	c.TargetType = domain.TargetSelected
	c.SelectedContacts = []string{"u2"}
	h := newHarness([]*domain.Campaign{c}, ada, domain.Contact{ID: "u2", Name: "Bo", Email: "bo@example.com"})

	h.sweep(t)

	require.Equal(t, 1, h.sender.count())
	assert.Equal(t, "bo@example.com", h.sender.calls[0].ToEmail)
}

func TestSweepSkipsContactsWithoutEmail(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, domain.Contact{ID: "u9", Name: "NoMail"})

	report := h.sweep(t)

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Successes)
	assert.Zero(t, report.Failures)
	assert.Zero(t, h.sender.count())
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("c1").Status)
}

func TestSweepPartialFailureIsNotFailed(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, ada)
	seed := h.store.Snapshot("c1")
	seed.Results = []domain.ResultRecord{{ContactID: "u0", Channel: domain.ChannelEmail, Status: domain.ResultSent}}
	h.store = memory.NewCampaignStore(seed)
	h.contacts = memory.NewContactStore(domain.Contact{ID: "u0", Email: "zero@example.com"}, ada)
	h.sender.fail = true

	report := h.sweep(t)

	assert.Equal(t, 1, report.Successes)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("c1").Status)
}

func TestSweepDryRunSimulatesSends(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, ada)
	h.dryRun = true

	report := h.sweep(t)

	assert.Equal(t, 1, report.Successes)
	assert.Zero(t, h.sender.count())
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("c1").Status)
	attempts := h.attempts.All()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].DryRun)
	assert.True(t, h.publisher.events[0].DryRun)
}

func TestSweepSentDatesStaySubsetOfSchedule(t *testing.T) {
	c := emailCampaign("c1", d1, "not-a-date", d3)
	h := newHarness([]*domain.Campaign{c}, ada)
	h.clock.now = at(d4)

	h.sweep(t)

	got := h.store.Snapshot("c1")
	schedule := domain.NewStringSet(got.ScheduledDates...)
	for _, d := range got.SentDates {
		assert.True(t, schedule.Has(d), "sent date %s not scheduled", d)
	}
	assert.NotContains(t, got.SentDates, "not-a-date")
	assert.Equal(t, domain.CampaignStatusScheduled, got.Status, "unparseable date keeps campaign open")
}

func TestSweepUsesSingleScheduledAt(t *testing.T) {
	c := emailCampaign("c1")
	v := d1
	c.ScheduledAt = &v
	h := newHarness([]*domain.Campaign{c}, ada)

	h.sweep(t)

	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, []string{d1}, got.SentDates)
}

// malformedStore returns one undecodable campaign alongside the stored ones.
type malformedStore struct {
	*memory.CampaignStore
}

func (s malformedStore) ListByStatus(ctx context.Context, statuses []domain.CampaignStatus) ([]*domain.Campaign, error) {
	campaigns, err := s.CampaignStore.ListByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}
	broken := emailCampaign("broken", d1)
	broken.Status = ""
	broken.Malformed = []string{"results"}
	return append([]*domain.Campaign{broken}, campaigns...), nil
}

func TestSweepSkipsMalformedAndContinues(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("good", d1)}, ada)
	d := NewDispatcher(malformedStore{h.store}, h.contacts, h.sender, nil, nil, nil, Options{Now: h.clock.Now})

	report, err := d.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Campaigns)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, h.sender.count())
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("good").Status)
}

func TestSweepContinuesAfterCampaignError(t *testing.T) {
	selected := emailCampaign("c2", d1)
	selected.TargetType = domain.TargetSelected
	selected.CreatedAt = selected.CreatedAt.Add(time.Minute)
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1), selected}, ada)
	h.contacts.FailWith(errors.New("directory down"))

	report := h.sweep(t)

	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, domain.CampaignStatusScheduled, h.store.Snapshot("c1").Status)
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("c2").Status)
}

func TestSweepPublishesEventsAndSurvivesPublishFailure(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, ada)
	h.publisher.err = errors.New("kafka down")

	report := h.sweep(t)

	assert.Equal(t, 1, report.Processed)
	require.Len(t, h.publisher.events, 1)
	ev := h.publisher.events[0]
	assert.Equal(t, "c1", ev.CampaignID)
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, "scheduled", ev.PreviousStatus)
	assert.Equal(t, []string{d1}, ev.DueDates)
	assert.Equal(t, domain.CampaignStatusCompleted, h.store.Snapshot("c1").Status)
}

func TestSweepRecordsAttempts(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d2)}, ada)
	h.sender.fail = true

	h.sweep(t)
	h.clock.now = at(d2).Add(time.Minute)
	h.sender.fail = false
	h.sweep(t)

	attempts := h.attempts.All()
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].OK)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, "HTTP 503: unavailable", attempts[0].Error)
	assert.True(t, attempts[1].OK)
	assert.Equal(t, 2, attempts[1].Attempt)
}

func TestSweepRetriesFailedCampaignOnNextDueDate(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1, d2)}, ada)
	h.sender.fail = true
	h.sweep(t)
	require.Equal(t, domain.CampaignStatusFailed, h.store.Snapshot("c1").Status)

	h.sender.fail = false
	h.clock.now = at(d2).Add(time.Minute)
	report := h.sweep(t)

	assert.Equal(t, 1, report.Successes)
	got := h.store.Snapshot("c1")
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCounts[domain.DeliveryKey{ContactID: "u1", Channel: domain.ChannelEmail}])
}

func TestSweepIgnoresTerminalAndDraftCampaigns(t *testing.T) {
	done := emailCampaign("done", d1)
	done.Status = domain.CampaignStatusCompleted
	draft := emailCampaign("draft", d1)
	draft.Status = domain.CampaignStatusDraft
	h := newHarness([]*domain.Campaign{done, draft}, ada)

	report := h.sweep(t)

	assert.Zero(t, report.Campaigns)
	assert.Zero(t, h.sender.count())
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	h := newHarness([]*domain.Campaign{emailCampaign("c1", d1)}, ada)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.dispatcher().Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.sender.count())
}
