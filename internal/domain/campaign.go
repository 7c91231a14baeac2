package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// ParseCampaignStatus validates a stored status. Unknown values yield "" and false.
func ParseCampaignStatus(value string) (CampaignStatus, bool) {
	switch s := CampaignStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusCompleted, CampaignStatusFailed:
		return s, true
	default:
		return "", false
	}
}

// Channel is a delivery channel name.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
)

// TargetType selects which contacts a campaign addresses.
type TargetType string

const (
	TargetAll      TargetType = "all"
	TargetSelected TargetType = "selected"
)

// ResultStatus is the per-(contact, channel) delivery outcome.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultSent    ResultStatus = "sent"
	ResultFailed  ResultStatus = "failed"
)

// Campaign models a marketing campaign as read from the store.
type Campaign struct {
	ID               string
	Name             string
	Message          string
	MediaURL         string
	MediaFormat      string
	TargetType       TargetType
	SelectedContacts []string
	Channels         map[Channel]bool
	ScheduledAt      *string
	ScheduledDates   []string
	SentDates        []string
	Results          []ResultRecord
	RetryCounts      RetryCounts
	Status           CampaignStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastProcessedAt  *time.Time

	// Malformed lists stored fields that could not be decoded.
	Malformed []string
}

// ResultRecord is the delivery outcome for one contact on one channel.
type ResultRecord struct {
	ContactID    string       `json:"contactId"`
	ContactName  string       `json:"contactName"`
	ContactEmail string       `json:"contactEmail,omitempty"`
	ContactPhone string       `json:"contactPhone,omitempty"`
	Channel      Channel      `json:"channel"`
	Status       ResultStatus `json:"status"`
	SentAt       *time.Time   `json:"sentAt"`
}

// ChannelEnabled reports whether the channel flag is set.
func (c *Campaign) ChannelEnabled(ch Channel) bool {
	return c.Channels[ch]
}

// EffectiveScheduledDates returns ScheduledDates, falling back to the single ScheduledAt.
func (c *Campaign) EffectiveScheduledDates() []string {
	if len(c.ScheduledDates) > 0 {
		return c.ScheduledDates
	}
	if c.ScheduledAt != nil && *c.ScheduledAt != "" {
		return []string{*c.ScheduledAt}
	}
	return nil
}

// FindResult returns the index of the result for (contactID, channel) or -1.
func (c *Campaign) FindResult(contactID string, ch Channel) int {
	for i, r := range c.Results {
		if r.ContactID == contactID && r.Channel == ch {
			return i
		}
	}
	return -1
}

// AlreadySent reports whether (contactID, channel) is recorded as sent.
func (c *Campaign) AlreadySent(contactID string, ch Channel) bool {
	idx := c.FindResult(contactID, ch)
	return idx >= 0 && c.Results[idx].Status == ResultSent
}

// UpsertResult replaces the matching result entry or appends a new one.
func (c *Campaign) UpsertResult(rec ResultRecord) {
	if idx := c.FindResult(rec.ContactID, rec.Channel); idx >= 0 {
		c.Results[idx] = rec
		return
	}
	c.Results = append(c.Results, rec)
}

// AllResultsSent reports whether every result entry is sent. Empty is false.
func (c *Campaign) AllResultsSent() bool {
	if len(c.Results) == 0 {
		return false
	}
	for _, r := range c.Results {
		if r.Status != ResultSent {
			return false
		}
	}
	return true
}

// DeliveryKey identifies a retry counter.
type DeliveryKey struct {
	ContactID string
	Channel   Channel
}

// RetryCounts tracks delivery attempts per (contact, channel).
type RetryCounts map[DeliveryKey]int

type retryCountEntry struct {
	ContactID string  `json:"contactId"`
	Channel   Channel `json:"channel"`
	Attempts  int     `json:"attempts"`
}

// Clone returns an independent copy.
func (rc RetryCounts) Clone() RetryCounts {
	out := make(RetryCounts, len(rc))
	for k, v := range rc {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the counters as a stable array of entries.
func (rc RetryCounts) MarshalJSON() ([]byte, error) {
	entries := make([]retryCountEntry, 0, len(rc))
	for k, v := range rc {
		entries = append(entries, retryCountEntry{ContactID: k.ContactID, Channel: k.Channel, Attempts: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ContactID != entries[j].ContactID {
			return entries[i].ContactID < entries[j].ContactID
		}
		return entries[i].Channel < entries[j].Channel
	})
	return json.Marshal(entries)
}

// UnmarshalJSON accepts the entry array and the legacy {"<contact>_<channel>": n} object.
func (rc *RetryCounts) UnmarshalJSON(data []byte) error {
	out := RetryCounts{}
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "" || trimmed == "null":
	case strings.HasPrefix(trimmed, "["):
		var entries []retryCountEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("retry counts: %w", err)
		}
		for _, e := range entries {
			out[DeliveryKey{ContactID: e.ContactID, Channel: e.Channel}] = e.Attempts
		}
	default:
		var legacy map[string]int
		if err := json.Unmarshal(data, &legacy); err != nil {
			return fmt.Errorf("retry counts: %w", err)
		}
		for key, n := range legacy {
			idx := strings.LastIndex(key, "_")
			if idx <= 0 {
				continue
			}
			out[DeliveryKey{ContactID: key[:idx], Channel: Channel(key[idx+1:])}] = n
		}
	}
	*rc = out
	return nil
}

// Clone returns a deep copy.
func (c *Campaign) Clone() *Campaign {
	out := *c
	out.SelectedContacts = cloneStrings(c.SelectedContacts)
	out.ScheduledDates = cloneStrings(c.ScheduledDates)
	out.SentDates = cloneStrings(c.SentDates)
	out.Malformed = cloneStrings(c.Malformed)
	if c.ScheduledAt != nil {
		v := *c.ScheduledAt
		out.ScheduledAt = &v
	}
	if c.LastProcessedAt != nil {
		t := *c.LastProcessedAt
		out.LastProcessedAt = &t
	}
	if c.Channels != nil {
		out.Channels = make(map[Channel]bool, len(c.Channels))
		for k, v := range c.Channels {
			out.Channels[k] = v
		}
	}
	if c.RetryCounts != nil {
		out.RetryCounts = c.RetryCounts.Clone()
	}
	if c.Results != nil {
		out.Results = make([]ResultRecord, len(c.Results))
		for i, r := range c.Results {
			if r.SentAt != nil {
				t := *r.SentAt
				r.SentAt = &t
			}
			out.Results[i] = r
		}
	}
	return &out
}

func cloneStrings(v []string) []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v...)
}
