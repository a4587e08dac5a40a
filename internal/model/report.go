package model

import "time"

type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

func ModeFor(dryRun bool) Mode {
	if dryRun {
		return ModeDryRun
	}
	return ModeLive
}

// Report aggregates the outcomes of one provisioning run.
type Report struct {
	RunID      string    `json:"run_id"`
	CompanyID  string    `json:"company_id"`
	Provider   Provider  `json:"provider"`
	Mode       Mode      `json:"mode"`
	Timestamp  time.Time `json:"timestamp"`
	TotalUsers int       `json:"total_users"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Counts is the per-action tally of a run. It is always derived from the
// outcomes, never stored.
type Counts struct {
	Total        int `json:"total"`
	WouldProcess int `json:"would_process"`
	Created      int `json:"created"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Counts classifies every outcome in a single pass.
func (r *Report) Counts() Counts {
	c := Counts{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Action {
		case ActionWouldProcess:
			c.WouldProcess++
		case ActionCreated:
			c.Created++
		case ActionSkippedExists:
			c.Skipped++
		case ActionFailed:
			c.Failed++
		}
	}
	return c
}
