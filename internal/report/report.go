// Package report folds per-user outcomes into the run report handed to the
// result sink.
package report

import (
	"fmt"
	"strings"
	"time"

	"example.com/user-provisioner/internal/model"
)

// Aggregate builds the report for one run. Passwords survive only on accounts
// created in live mode.
func Aggregate(runID, companyID string, p model.Provider, mode model.Mode, outcomes []model.Outcome, now time.Time) *model.Report {
	out := make([]model.Outcome, len(outcomes))
	for i, o := range outcomes {
		if mode != model.ModeLive || o.Action != model.ActionCreated {
			o.Password = ""
		}
		out[i] = o
	}
	return &model.Report{
		RunID:      runID,
		CompanyID:  companyID,
		Provider:   p,
		Mode:       mode,
		Timestamp:  now.UTC(),
		TotalUsers: len(out),
		Outcomes:   out,
	}
}

// Summary renders the human readable run summary, including the one-time
// password disclosure for accounts created in live mode.
func Summary(r *model.Report) string {
	c := r.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "SUMMARY for %s (%s, %s)\n", r.CompanyID, r.Provider, r.Mode)
	fmt.Fprintf(&b, "  Total users: %d\n", r.TotalUsers)
	if r.Mode == model.ModeDryRun {
		fmt.Fprintf(&b, "  Would process: %d\n", c.WouldProcess)
		return b.String()
	}
	fmt.Fprintf(&b, "  Created: %d\n", c.Created)
	fmt.Fprintf(&b, "  Skipped (already exists): %d\n", c.Skipped)
	fmt.Fprintf(&b, "  Failed: %d\n", c.Failed)

	if c.Created > 0 {
		b.WriteString("  Passwords for new users:\n")
		for _, o := range r.Outcomes {
			if o.Action == model.ActionCreated && o.Password != "" {
				fmt.Fprintf(&b, "    %s: %s\n", o.Email, o.Password)
			}
		}
	}
	for _, o := range r.Outcomes {
		if o.Action == model.ActionFailed {
			fmt.Fprintf(&b, "  FAILED %s: %s\n", o.Email, o.ErrorDetail)
		}
	}
	return b.String()
}
