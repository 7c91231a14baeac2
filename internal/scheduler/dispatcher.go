package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/afroboost/campaign-scheduler/internal/delivery"
	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/queue"
	"github.com/afroboost/campaign-scheduler/internal/repository"
	"github.com/afroboost/campaign-scheduler/internal/telemetry"
	"github.com/afroboost/campaign-scheduler/pkg/logger"
)

// DefaultMaxAttempts is the per-(contact, channel) delivery ceiling.
const DefaultMaxAttempts = 3

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg delivery.Message) delivery.Result
}

// EventPublisher announces committed campaign transitions.
type EventPublisher interface {
	PublishCampaignEvent(ctx context.Context, event queue.CampaignEvent) error
}

// Options tune the dispatcher.
type Options struct {
	MaxAttempts   int
	DryRun        bool
	SubjectPrefix string
	Statuses      []domain.CampaignStatus
	Now           func() time.Time
}

// DefaultStatuses are swept when Options.Statuses is empty.
func DefaultStatuses() []domain.CampaignStatus {
	return []domain.CampaignStatus{
		domain.CampaignStatusScheduled,
		domain.CampaignStatusSending,
		domain.CampaignStatusFailed,
	}
}

// SweepReport aggregates one sweep.
type SweepReport struct {
	Campaigns int
	Processed int
	Successes int
	Failures  int
	Skipped   int
	Errors    int
}

// Outcome is the result of processing one campaign.
type Outcome struct {
	Processed bool
	Successes int
	Failures  int
	Status    domain.CampaignStatus
	DueDates  []string
}

// Dispatcher runs the campaign delivery state machine. One Sweep call is one sweep.
type Dispatcher struct {
	campaigns repository.CampaignRepository
	contacts  repository.ContactDirectory
	sender    Sender
	attempts  repository.AttemptLog
	events    EventPublisher
	logger    *logger.Logger
	opts      Options
}

// NewDispatcher wires a dispatcher. A nil attempt log or publisher disables that concern.
func NewDispatcher(
	campaigns repository.CampaignRepository,
	contacts repository.ContactDirectory,
	sender Sender,
	attempts repository.AttemptLog,
	events EventPublisher,
	log *logger.Logger,
	opts Options,
) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = DefaultStatuses()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if attempts == nil {
		attempts = repository.NopAttemptLog{}
	}
	if events == nil {
		events = queue.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		campaigns: campaigns,
		contacts:  contacts,
		sender:    sender,
		attempts:  attempts,
		events:    events,
		logger:    log,
		opts:      opts,
	}
}

// Sweep processes every campaign in a swept status, one at a time. A campaign that
// fails is logged and counted; the sweep moves on. The returned error is non-nil only
// when the campaign list cannot be read or ctx is cancelled between campaigns.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepReport, error) {
	tracer := otel.Tracer("afroboost.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.sweep")
	defer span.End()

	var report SweepReport
	campaigns, err := d.campaigns.ListByStatus(sctx, d.opts.Statuses)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("sweep: list campaigns: %w", err)
	}
	report.Campaigns = len(campaigns)
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)), attribute.Bool("dry_run", d.opts.DryRun))
	d.logger.Info("scheduler: sweep started", zap.Int("campaigns", len(campaigns)), zap.Bool("dry_run", d.opts.DryRun))

	for _, campaign := range campaigns {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		cctx, cspan := tracer.Start(sctx, "scheduler.campaign", trace.WithAttributes(
			attribute.String("campaign.id", campaign.ID),
			attribute.String("campaign.status", string(campaign.Status)),
		))
		outcome, err := d.ProcessCampaign(cctx, campaign)
		switch {
		case errors.Is(err, errMalformed):
			report.Skipped++
		case err != nil:
			cspan.RecordError(err)
			report.Errors++
			d.logger.Campaign(campaign.ID, campaign.Name).Error("scheduler: campaign processing failed", zap.Error(err))
		case outcome.Processed:
			report.Processed++
			report.Successes += outcome.Successes
			report.Failures += outcome.Failures
			telemetry.CampaignsProcessed.WithLabelValues(string(outcome.Status)).Inc()
			cspan.SetAttributes(
				attribute.String("campaign.new_status", string(outcome.Status)),
				attribute.Int("deliveries.ok", outcome.Successes),
				attribute.Int("deliveries.failed", outcome.Failures),
			)
		}
		cspan.End()
	}

	d.logger.Info("scheduler: sweep finished",
		zap.Int("processed", report.Processed),
		zap.Int("successes", report.Successes),
		zap.Int("failures", report.Failures),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

var errMalformed = errors.New("campaign record is malformed")

// ProcessCampaign runs the delivery state machine for one campaign and
// commits the outcome with a single field-scoped update.
func (d *Dispatcher) ProcessCampaign(ctx context.Context, campaign *domain.Campaign) (Outcome, error) {
	log := d.logger.Campaign(campaign.ID, campaign.Name)
	if campaign.Status == "" {
		log.Warn("scheduler: skipping malformed campaign", zap.Strings("fields", campaign.Malformed))
		return Outcome{}, errMalformed
	}
	if len(campaign.Malformed) > 0 {
		log.Warn("scheduler: campaign has undecodable fields", zap.Strings("fields", campaign.Malformed))
	}

	now := d.opts.Now()

	due, issues := campaign.DueDates(now)
	for _, issue := range issues {
		log.Warn("scheduler: unparseable scheduled date", zap.String("date", issue.Value), zap.Error(issue.Err))
	}
	if len(due) == 0 {
		log.Debug("scheduler: nothing due")
		return Outcome{Status: campaign.Status}, nil
	}
	log.Info("scheduler: dates due", zap.Strings("due", due))

	contacts, err := d.resolveContacts(ctx, campaign)
	if err != nil {
		return Outcome{}, err
	}

	if len(contacts) == 0 {
		log.Warn("scheduler: no contacts resolved, completing campaign")
		outcome := Outcome{Processed: true, Status: domain.CampaignStatusCompleted, DueDates: due}
		if err := d.commit(ctx, campaign, outcome, repository.DispatchUpdate{
			Status:    outcome.Status,
			UpdatedAt: now,
		}); err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}

	if !campaign.ChannelEnabled(domain.ChannelEmail) {
		status := domain.CampaignStatusScheduled
		if campaign.AllDatesProcessed(domain.UnionOrdered(campaign.SentDates, due...)) {
			status = domain.CampaignStatusCompleted
		}
		log.Info("scheduler: email channel disabled, folding due dates", zap.String("status", string(status)))
		outcome := Outcome{Processed: true, Status: status, DueDates: due}
		if err := d.commit(ctx, campaign, outcome, repository.DispatchUpdate{
			Status:       status,
			AddSentDates: due,
			UpdatedAt:    now,
		}); err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}

	work := campaign.Clone()
	if work.RetryCounts == nil {
		work.RetryCounts = domain.RetryCounts{}
	}
	successes, failures := d.deliver(ctx, work, contacts, now, log)

	newSent := domain.UnionOrdered(campaign.SentDates, due...)
	status := domain.CampaignStatusScheduled
	switch {
	case failures > 0 && successes == 0:
		status = domain.CampaignStatusFailed
	case campaign.AllDatesProcessed(newSent):
		status = domain.CampaignStatusCompleted
	}

	results := work.Results
	if results == nil {
		results = []domain.ResultRecord{}
	}
	outcome := Outcome{Processed: true, Successes: successes, Failures: failures, Status: status, DueDates: due}
	if err := d.commit(ctx, campaign, outcome, repository.DispatchUpdate{
		Status:          status,
		Results:         results,
		AddSentDates:    due,
		RetryCounts:     work.RetryCounts,
		UpdatedAt:       now,
		LastProcessedAt: &now,
	}); err != nil {
		return Outcome{}, err
	}

	log.Info("scheduler: campaign updated",
		zap.String("status", string(status)),
		zap.Int("successes", successes),
		zap.Int("failures", failures),
	)
	return outcome, nil
}

func (d *Dispatcher) resolveContacts(ctx context.Context, campaign *domain.Campaign) ([]domain.Contact, error) {
	if campaign.TargetType == domain.TargetAll || campaign.TargetType == "" {
		contacts, err := d.contacts.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve contacts: %w", err)
		}
		return contacts, nil
	}
	if len(campaign.SelectedContacts) == 0 {
		return nil, nil
	}
	contacts, err := d.contacts.ByIDs(ctx, campaign.SelectedContacts)
	if err != nil {
		return nil, fmt.Errorf("resolve selected contacts: %w", err)
	}
	return contacts, nil
}

// deliver runs the per-contact loop, mutating work's results and retry counters.
func (d *Dispatcher) deliver(ctx context.Context, work *domain.Campaign, contacts []domain.Contact, now time.Time, log *logger.Logger) (successes, failures int) {
	channel := domain.ChannelEmail
	subject := d.opts.SubjectPrefix + work.Name

	for _, contact := range contacts {
		email := strings.TrimSpace(contact.Email)
		if email == "" {
			log.Warn("scheduler: contact has no email, skipped", zap.String("contact_id", contact.ID), zap.String("contact_name", contact.Name))
			telemetry.DeliveriesTotal.WithLabelValues(string(channel), "skipped").Inc()
			continue
		}

		if work.AlreadySent(contact.ID, channel) {
			successes++
			telemetry.DeliveriesTotal.WithLabelValues(string(channel), "already_sent").Inc()
			continue
		}

		key := domain.DeliveryKey{ContactID: contact.ID, Channel: channel}
		tries := work.RetryCounts[key]
		if tries >= d.opts.MaxAttempts {
			log.Error("scheduler: retry ceiling reached", zap.String("contact_id", contact.ID), zap.Int("attempts", tries))
			failures++
			telemetry.DeliveriesTotal.WithLabelValues(string(channel), "exhausted").Inc()
			continue
		}

		var res delivery.Result
		if d.opts.DryRun {
			log.Info("scheduler: dry-run send simulated", zap.String("contact_id", contact.ID), zap.String("email", email))
			res = delivery.Result{OK: true}
		} else {
			res = d.sender.Send(ctx, delivery.Message{
				ToEmail:  email,
				ToName:   contact.Name,
				Subject:  subject,
				Body:     work.Message,
				MediaURL: work.MediaURL,
			})
		}

		d.recordAttempt(ctx, work.ID, contact.ID, channel, tries+1, res, now, log)

		if res.OK {
			successes++
			sentAt := now
			work.UpsertResult(domain.ResultRecord{
				ContactID:    contact.ID,
				ContactName:  contact.Name,
				ContactEmail: email,
				ContactPhone: contact.Phone,
				Channel:      channel,
				Status:       domain.ResultSent,
				SentAt:       &sentAt,
			})
			telemetry.DeliveriesTotal.WithLabelValues(string(channel), "sent").Inc()
			continue
		}

		failures++
		work.RetryCounts[key] = tries + 1
		log.Error("scheduler: delivery failed",
			zap.String("contact_id", contact.ID),
			zap.Int("attempt", tries+1),
			zap.String("error", res.Error),
		)
		telemetry.DeliveriesTotal.WithLabelValues(string(channel), "failed").Inc()
	}
	return successes, failures
}

func (d *Dispatcher) recordAttempt(ctx context.Context, campaignID, contactID string, channel domain.Channel, attempt int, res delivery.Result, now time.Time, log *logger.Logger) {
	err := d.attempts.Append(ctx, domain.DeliveryAttempt{
		CampaignID:  campaignID,
		ContactID:   contactID,
		Channel:     channel,
		Attempt:     attempt,
		OK:          res.OK,
		Error:       res.Error,
		DryRun:      d.opts.DryRun,
		AttemptedAt: now,
	})
	if err != nil {
		log.Warn("scheduler: attempt log append failed", zap.Error(err))
	}
}

func (d *Dispatcher) commit(ctx context.Context, campaign *domain.Campaign, outcome Outcome, update repository.DispatchUpdate) error {
	if err := d.campaigns.ApplyDispatch(ctx, campaign.ID, update); err != nil {
		return fmt.Errorf("commit campaign %s: %w", campaign.ID, err)
	}

	event := queue.CampaignEvent{
		CampaignID:     campaign.ID,
		Status:         string(outcome.Status),
		PreviousStatus: string(campaign.Status),
		DueDates:       outcome.DueDates,
		Successes:      outcome.Successes,
		Failures:       outcome.Failures,
		DryRun:         d.opts.DryRun,
		OccurredAt:     update.UpdatedAt,
	}
	if err := d.events.PublishCampaignEvent(ctx, event); err != nil {
		d.logger.Campaign(campaign.ID, campaign.Name).Warn("scheduler: campaign event not published", zap.Error(err))
	}
	return nil
}
