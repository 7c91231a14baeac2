package domain

import "time"

// Contact is a directory entry the dispatcher can address.
type Contact struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// DeliveryAttempt is one recorded send attempt, real or simulated.
type DeliveryAttempt struct {
	ID          string
	CampaignID  string
	ContactID   string
	Channel     Channel
	Attempt     int
	OK          bool
	Error       string
	DryRun      bool
	AttemptedAt time.Time
}
