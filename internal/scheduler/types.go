// Package scheduler runs the periodic jobs of tenantgate. Today that is the
// retention enforcer, triggered by EventBridge through cmd/retention, by the
// /internal/retention/run endpoint, or by tenantctl.
package scheduler

import "time"

// JobRetention names the retention job in job_locks and job_history.
const JobRetention = "retention"

// RetentionPayload is the event body sent by the EventBridge rule.
//
//	{"reference_time": "2026-02-06T03:00:00Z"}
//
// ReferenceTime overrides "now" for backfills; nil means the current time.
type RetentionPayload struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Now resolves the reference time of a run.
func (p RetentionPayload) Now() time.Time {
	if p.ReferenceTime != nil {
		return p.ReferenceTime.UTC()
	}
	return time.Now().UTC()
}
