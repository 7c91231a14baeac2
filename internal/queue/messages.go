package queue

import "time"

// CampaignEvent announces a committed campaign transition. Channel collaborators
// (WhatsApp, Instagram) consume it to pick up their share of the work.
type CampaignEvent struct {
	CampaignID     string    `json:"campaign_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	DueDates       []string  `json:"due_dates,omitempty"`
	Successes      int       `json:"successes"`
	Failures       int       `json:"failures"`
	DryRun         bool      `json:"dry_run"`
	OccurredAt     time.Time `json:"occurred_at"`
}
