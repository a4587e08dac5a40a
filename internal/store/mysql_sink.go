package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"example.com/user-provisioner/internal/model"
)

// MySQLSink persists run reports. Passwords are never written to the
// database; the one-time disclosure goes through the file sink only.
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink opens a connection and ensures schema exists. DSN should be in the
// format accepted by github.com/go-sql-driver/mysql, e.g. user:pass@tcp(127.0.0.1:3306)/dbname?parseTime=true
func NewMySQLSink(dsn string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &MySQLSink{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLSink) Close() error { return s.db.Close() }

func (s *MySQLSink) ensureSchema() error {
	runs := `CREATE TABLE IF NOT EXISTS provisioning_runs (
  run_id VARCHAR(36) PRIMARY KEY,
  company_id VARCHAR(100) NOT NULL,
  provider VARCHAR(20) NOT NULL,
  mode VARCHAR(10) NOT NULL,
  total_users INT NOT NULL,
  created_count INT NOT NULL,
  skipped_count INT NOT NULL,
  failed_count INT NOT NULL,
  ran_at DATETIME NOT NULL,
  INDEX idx_runs_company (company_id, ran_at)
);`
	if _, err := s.db.Exec(runs); err != nil {
		return err
	}

	outcomes := `CREATE TABLE IF NOT EXISTS provisioning_outcomes (
  run_id VARCHAR(36) NOT NULL,
  seq INT NOT NULL,
  email VARCHAR(255) NOT NULL,
  action VARCHAR(20) NOT NULL,
  provider_user_id VARCHAR(100),
  error_detail VARCHAR(255),
  PRIMARY KEY (run_id, seq)
);`
	_, err := s.db.Exec(outcomes)
	return err
}

// Deliver stores the run and its outcomes in one transaction. Redelivering
// the same run id replaces the earlier rows.
func (s *MySQLSink) Deliver(ctx context.Context, r *model.Report) error {
	if r == nil || r.RunID == "" {
		return errors.New("invalid report")
	}
	c := r.Counts()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM provisioning_outcomes WHERE run_id = ?`, r.RunID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `REPLACE INTO provisioning_runs (run_id, company_id, provider, mode, total_users, created_count, skipped_count, failed_count, ran_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CompanyID, string(r.Provider), string(r.Mode), r.TotalUsers, c.Created, c.Skipped, c.Failed, r.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, o := range r.Outcomes {
		_, err := tx.ExecContext(ctx, `INSERT INTO provisioning_outcomes (run_id, seq, email, action, provider_user_id, error_detail) VALUES (?, ?, ?, ?, ?, ?)`,
			r.RunID, i, o.Email, string(o.Action), nullable(o.ProviderUserID), nullable(o.ErrorDetail))
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Email, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a stored report without passwords.
func (s *MySQLSink) GetRun(ctx context.Context, runID string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, company_id, provider, mode, total_users, ran_at FROM provisioning_runs WHERE run_id = ?`, runID)
	var (
		r     model.Report
		ranAt time.Time
	)
	if err := row.Scan(&r.RunID, &r.CompanyID, &r.Provider, &r.Mode, &r.TotalUsers, &ranAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Timestamp = ranAt.UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT email, action, provider_user_id, error_detail FROM provisioning_outcomes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			o      model.Outcome
			userID sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&o.Email, &o.Action, &userID, &detail); err != nil {
			return nil, err
		}
		o.ProviderUserID = userID.String
		o.ErrorDetail = detail.String
		r.Outcomes = append(r.Outcomes, o)
	}
	return &r, rows.Err()
}

// ListRuns returns the run ids of a company, newest first.
func (s *MySQLSink) ListRuns(ctx context.Context, companyID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM provisioning_runs WHERE company_id = ? ORDER BY ran_at DESC LIMIT ?`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	if len(s) > 255 {
		s = s[:255]
	}
	return sql.NullString{String: s, Valid: s != ""}
}
