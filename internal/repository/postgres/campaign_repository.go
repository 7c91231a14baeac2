package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/repository"
)

const campaignColumns = `id, name, message, media_url, media_format, target_type, selected_contacts,
	channels, scheduled_at, scheduled_dates, sent_dates, results, retry_counts, status,
	created_at, updated_at, last_processed_at`

const uniqueViolation = "23505"

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, message, media_url, media_format, target_type, selected_contacts, channels,
		scheduled_at, scheduled_dates, sent_dates, results, retry_counts, status, created_at, updated_at
	) VALUES (
		:id, :name, :message, :media_url, :media_format, :target_type, :selected_contacts, :channels,
		:scheduled_at, :scheduled_dates, :sent_dates, :results, :retry_counts, :status, :created_at, :updated_at
	)`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return fmt.Errorf("campaign repo: insert: %w", err)
	}

	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// List returns the most recently created campaigns.
func (r *CampaignRepository) List(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	return scanCampaigns(rows)
}

// ListByStatus returns every campaign whose status is one of statuses.
func (r *CampaignRepository) ListByStatus(ctx context.Context, statuses []domain.CampaignStatus) ([]*domain.Campaign, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = ANY($1) ORDER BY created_at ASC`, pq.Array(values))
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	return scanCampaigns(rows)
}

// UpdateContent applies a management patch to the named columns only.
func (r *CampaignRepository) UpdateContent(ctx context.Context, id string, patch repository.CampaignPatch) error {
	set := newSetBuilder()
	if patch.Name != nil {
		set.add("name", *patch.Name)
	}
	if patch.Message != nil {
		set.add("message", *patch.Message)
	}
	if patch.MediaURL != nil {
		set.add("media_url", *patch.MediaURL)
	}
	if patch.MediaFormat != nil {
		set.add("media_format", *patch.MediaFormat)
	}
	if patch.TargetType != nil {
		set.add("target_type", string(*patch.TargetType))
	}
	if patch.SelectedContacts != nil {
		if err := set.addJSON("selected_contacts", nonNilStrings(*patch.SelectedContacts)); err != nil {
			return err
		}
	}
	if patch.Channels != nil {
		if err := set.addJSON("channels", *patch.Channels); err != nil {
			return err
		}
	}
	if patch.ScheduledAt != nil {
		set.add("scheduled_at", nullableString(*patch.ScheduledAt))
	}
	if patch.ScheduledDates != nil {
		if err := set.addJSON("scheduled_dates", nonNilStrings(*patch.ScheduledDates)); err != nil {
			return err
		}
	}
	if patch.Status != nil {
		set.add("status", string(*patch.Status))
	}
	set.add("updated_at", patch.UpdatedAt)

	return r.execUpdate(ctx, "update content", id, set)
}

// Delete removes a campaign.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("campaign repo: delete: %w", err)
	}
	return requireAffected(res, "delete")
}

// ApplyDispatch commits the dispatcher-owned fields in one statement. Sent dates are
// added with set semantics against the stored column, not overwritten.
func (r *CampaignRepository) ApplyDispatch(ctx context.Context, id string, update repository.DispatchUpdate) error {
	set := newSetBuilder()
	set.add("status", string(update.Status))
	set.add("updated_at", update.UpdatedAt)
	if update.Results != nil {
		if err := set.addJSON("results", update.Results); err != nil {
			return err
		}
	}
	if len(update.AddSentDates) > 0 {
		payload, err := json.Marshal(update.AddSentDates)
		if err != nil {
			return fmt.Errorf("campaign repo: marshal sent dates: %w", err)
		}
		n := set.arg(payload)
		set.raw(fmt.Sprintf(`sent_dates = sent_dates || (
			SELECT COALESCE(jsonb_agg(d), '[]'::jsonb)
			  FROM jsonb_array_elements($%d::jsonb) AS d
			 WHERE NOT sent_dates @> jsonb_build_array(d))`, n))
	}
	if update.RetryCounts != nil {
		if err := set.addJSON("retry_counts", update.RetryCounts); err != nil {
			return err
		}
	}
	if update.LastProcessedAt != nil {
		set.add("last_processed_at", *update.LastProcessedAt)
	}

	return r.execUpdate(ctx, "apply dispatch", id, set)
}

// Launch seeds pending results and moves the campaign to sending.
func (r *CampaignRepository) Launch(ctx context.Context, id string, results []domain.ResultRecord, at time.Time) error {
	set := newSetBuilder()
	set.add("status", string(domain.CampaignStatusSending))
	if err := set.addJSON("results", nonNilResults(results)); err != nil {
		return err
	}
	set.add("updated_at", at)
	return r.execUpdate(ctx, "launch", id, set)
}

// MarkResultSent flips one result to sent and completes the campaign once every
// result is sent. The read-modify-write runs under a row lock.
func (r *CampaignRepository) MarkResultSent(ctx context.Context, id, contactID string, channel domain.Channel, at time.Time) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var record campaignRecord
		row := tx.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
		if err := row.StructScan(&record); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("campaign repo: lock campaign: %w", err)
		}
		campaign = record.toDomain()

		idx := campaign.FindResult(contactID, channel)
		if idx < 0 {
			return repository.ErrNotFound
		}
		sentAt := at
		campaign.Results[idx].Status = domain.ResultSent
		campaign.Results[idx].SentAt = &sentAt

		set := newSetBuilder()
		if err := set.addJSON("results", campaign.Results); err != nil {
			return err
		}
		if campaign.AllResultsSent() {
			campaign.Status = domain.CampaignStatusCompleted
			set.add("status", string(campaign.Status))
			campaign.UpdatedAt = at
			set.add("updated_at", at)
		}

		query, args := set.build(id)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("campaign repo: mark sent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *CampaignRepository) execUpdate(ctx context.Context, op, id string, set *setBuilder) error {
	query, args := set.build(id)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("campaign repo: %s: %w", op, err)
	}
	return requireAffected(res, op)
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: %s rows affected: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

// setBuilder assembles "UPDATE campaigns SET ... WHERE id = $n" with positional args.
type setBuilder struct {
	clauses []string
	args    []any
}

func newSetBuilder() *setBuilder {
	return &setBuilder{}
}

func (b *setBuilder) arg(v any) int {
	b.args = append(b.args, v)
	return len(b.args)
}

func (b *setBuilder) add(column string, v any) {
	n := b.arg(v)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, n))
}

func (b *setBuilder) addJSON(column string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("campaign repo: marshal %s: %w", column, err)
	}
	n := b.arg(payload)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d::jsonb", column, n))
	return nil
}

func (b *setBuilder) raw(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *setBuilder) build(id string) (string, []any) {
	n := b.arg(id)
	query := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", strings.Join(b.clauses, ", "), n)
	return query, b.args
}

func campaignParams(c *domain.Campaign) (map[string]any, error) {
	jsonFields := map[string]any{
		"selected_contacts": nonNilStrings(c.SelectedContacts),
		"channels":          c.Channels,
		"scheduled_dates":   nonNilStrings(c.ScheduledDates),
		"sent_dates":        nonNilStrings(c.SentDates),
		"results":           nonNilResults(c.Results),
		"retry_counts":      c.RetryCounts,
	}
	params := map[string]any{
		"id":           c.ID,
		"name":         c.Name,
		"message":      c.Message,
		"media_url":    c.MediaURL,
		"media_format": c.MediaFormat,
		"target_type":  string(c.TargetType),
		"scheduled_at": nullableStringPtr(c.ScheduledAt),
		"status":       string(c.Status),
		"created_at":   c.CreatedAt,
		"updated_at":   c.UpdatedAt,
	}
	for key, value := range jsonFields {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("campaign repo: marshal %s: %w", key, err)
		}
		params[key] = payload
	}
	return params, nil
}

type campaignRecord struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Message          sql.NullString `db:"message"`
	MediaURL         sql.NullString `db:"media_url"`
	MediaFormat      sql.NullString `db:"media_format"`
	TargetType       sql.NullString `db:"target_type"`
	SelectedContacts []byte         `db:"selected_contacts"`
	Channels         []byte         `db:"channels"`
	ScheduledAt      sql.NullString `db:"scheduled_at"`
	ScheduledDates   []byte         `db:"scheduled_dates"`
	SentDates        []byte         `db:"sent_dates"`
	Results          []byte         `db:"results"`
	RetryCounts      []byte         `db:"retry_counts"`
	Status           string         `db:"status"`
	CreatedAt        sql.NullTime   `db:"created_at"`
	UpdatedAt        sql.NullTime   `db:"updated_at"`
	LastProcessedAt  sql.NullTime   `db:"last_processed_at"`
}

// toDomain decodes leniently. Fields the dispatcher relies on for idempotence
// (sent dates, results, retry counts) invalidate the status when malformed so the
// campaign is never swept; a malformed schedule or target list reads as empty.
func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:          r.ID,
		Name:        r.Name,
		Message:     r.Message.String,
		MediaURL:    r.MediaURL.String,
		MediaFormat: r.MediaFormat.String,
		TargetType:  domain.TargetType(r.TargetType.String),
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
	if campaign.TargetType == "" {
		campaign.TargetType = domain.TargetAll
	}
	if r.ScheduledAt.Valid && r.ScheduledAt.String != "" {
		v := r.ScheduledAt.String
		campaign.ScheduledAt = &v
	}
	if r.LastProcessedAt.Valid {
		t := r.LastProcessedAt.Time
		campaign.LastProcessedAt = &t
	}

	status, ok := domain.ParseCampaignStatus(r.Status)
	if !ok {
		campaign.Malformed = append(campaign.Malformed, "status")
	}

	soft := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"selected_contacts", r.SelectedContacts, &campaign.SelectedContacts},
		{"channels", r.Channels, &campaign.Channels},
		{"scheduled_dates", r.ScheduledDates, &campaign.ScheduledDates},
	}
	for _, f := range soft {
		if !decodeJSON(f.raw, f.dst) {
			campaign.Malformed = append(campaign.Malformed, f.name)
		}
	}

	hard := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"sent_dates", r.SentDates, &campaign.SentDates},
		{"results", r.Results, &campaign.Results},
		{"retry_counts", r.RetryCounts, &campaign.RetryCounts},
	}
	for _, f := range hard {
		if !decodeJSON(f.raw, f.dst) {
			campaign.Malformed = append(campaign.Malformed, f.name)
			ok = false
		}
	}

	if ok {
		campaign.Status = status
	}
	if campaign.RetryCounts == nil {
		campaign.RetryCounts = domain.RetryCounts{}
	}
	if campaign.Channels == nil {
		campaign.Channels = map[domain.Channel]bool{}
	}

	return campaign
}

func decodeJSON(raw []byte, dst any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilResults(v []domain.ResultRecord) []domain.ResultRecord {
	if v == nil {
		return []domain.ResultRecord{}
	}
	return v
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullableStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return nullableString(*v)
}
