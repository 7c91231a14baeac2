package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestParseScheduledDate(t *testing.T) {
	want := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	cases := []string{
		"2025-01-02T09:00:00Z",
		"2025-01-02T10:00:00+01:00",
		"2025-01-02T09:00:00.000Z",
		"2025-01-02T09:00:00",
		"2025-01-02T09:00",
		"2025-01-02 09:00",
	}
	for _, in := range cases {
		got, err := ParseScheduledDate(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}

	for _, bad := range []string{"", "tomorrow", "02/01/2025"} {
		if _, err := ParseScheduledDate(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDueDates(t *testing.T) {
	c := &Campaign{
		ScheduledDates: []string{"2025-01-01T09:00:00Z", "2025-01-02T09:00:00Z", "garbage", "2025-01-05T09:00:00Z"},
		SentDates:      []string{"2025-01-01T09:00:00Z"},
	}

	due, issues := c.DueDates(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC))
	if !reflect.DeepEqual(due, []string{"2025-01-02T09:00:00Z"}) {
		t.Fatalf("unexpected due dates: %v", due)
	}
	if len(issues) != 1 || issues[0].Value != "garbage" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestDueDatesFallsBackToScheduledAt(t *testing.T) {
	at := "2025-01-02T09:00:00Z"
	c := &Campaign{ScheduledAt: &at}

	due, _ := c.DueDates(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	if !reflect.DeepEqual(due, []string{at}) {
		t.Fatalf("unexpected due dates: %v", due)
	}
	if !c.AllDatesProcessed([]string{at}) {
		t.Fatalf("expected all dates processed")
	}

	empty := &Campaign{}
	if due, _ := empty.DueDates(time.Now()); len(due) != 0 {
		t.Fatalf("expected no due dates, got %v", due)
	}
}

func TestUnionOrdered(t *testing.T) {
	got := UnionOrdered([]string{"a", "b"}, "b", "c", "a", "d")
	if !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("unexpected union: %v", got)
	}
}

func TestRetryCountsJSON(t *testing.T) {
	rc := RetryCounts{
		{ContactID: "u_2", Channel: ChannelEmail}: 1,
		{ContactID: "u1", Channel: ChannelEmail}:  3,
	}
	data, err := json.Marshal(rc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"contactId":"u1","channel":"email","attempts":3},{"contactId":"u_2","channel":"email","attempts":1}]`
	if string(data) != want {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var decoded RetryCounts
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded[DeliveryKey{ContactID: "u_2", Channel: ChannelEmail}] != 1 {
		t.Fatalf("contact id with underscore lost: %v", decoded)
	}
}

func TestRetryCountsLegacyObject(t *testing.T) {
	var rc RetryCounts
	if err := json.Unmarshal([]byte(`{"user_1_email":2,"bogus":5}`), &rc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rc[DeliveryKey{ContactID: "user_1", Channel: ChannelEmail}] != 2 {
		t.Fatalf("legacy key not split on last underscore: %v", rc)
	}
	if len(rc) != 1 {
		t.Fatalf("expected malformed legacy key to be dropped: %v", rc)
	}

	if err := json.Unmarshal([]byte(`null`), &rc); err != nil || len(rc) != 0 {
		t.Fatalf("expected empty counters for null, got %v (%v)", rc, err)
	}
	if err := json.Unmarshal([]byte(`"nope"`), &rc); err == nil {
		t.Fatalf("expected error for non-object value")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	sentAt := time.Now()
	orig := &Campaign{
		ID:          "c1",
		Channels:    map[Channel]bool{ChannelEmail: true},
		SentDates:   []string{"d1"},
		Results:     []ResultRecord{{ContactID: "u1", Channel: ChannelEmail, Status: ResultSent, SentAt: &sentAt}},
		RetryCounts: RetryCounts{{ContactID: "u1", Channel: ChannelEmail}: 1},
	}

	cp := orig.Clone()
	cp.Channels[ChannelEmail] = false
	cp.SentDates[0] = "changed"
	cp.Results[0].Status = ResultFailed
	*cp.Results[0].SentAt = time.Time{}
	cp.RetryCounts[DeliveryKey{ContactID: "u1", Channel: ChannelEmail}] = 9

	if !orig.Channels[ChannelEmail] || orig.SentDates[0] != "d1" || orig.Results[0].Status != ResultSent {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
	if orig.Results[0].SentAt.IsZero() {
		t.Fatalf("clone shares sentAt pointer")
	}
	if orig.RetryCounts[DeliveryKey{ContactID: "u1", Channel: ChannelEmail}] != 1 {
		t.Fatalf("clone shares retry counts")
	}
}

func TestResultHelpers(t *testing.T) {
	c := &Campaign{}
	if c.AllResultsSent() {
		t.Fatalf("empty results must not count as all sent")
	}
	c.UpsertResult(ResultRecord{ContactID: "u1", Channel: ChannelEmail, Status: ResultFailed})
	c.UpsertResult(ResultRecord{ContactID: "u1", Channel: ChannelEmail, Status: ResultSent})
	if len(c.Results) != 1 || !c.AlreadySent("u1", ChannelEmail) {
		t.Fatalf("upsert did not replace entry: %+v", c.Results)
	}
	if !c.AllResultsSent() {
		t.Fatalf("expected all results sent")
	}
}

func TestParseCampaignStatus(t *testing.T) {
	if st, ok := ParseCampaignStatus(" Scheduled "); !ok || st != CampaignStatusScheduled {
		t.Fatalf("unexpected parse: %q %v", st, ok)
	}
	if _, ok := ParseCampaignStatus("paused"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
