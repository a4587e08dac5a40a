package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/report"
)

// FileSink keeps the archive layout of the upload container:
//
//	<dir>/archive/raw/<company>/<timestamp>_<upload id>_<name>
//	<dir>/archive/results/<timestamp>/<company>_<run id>_results.json
//
// Files are created exclusively; an existing file is never replaced.
type FileSink struct {
	Dir string
	now func() time.Time
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir, now: time.Now}
}

// Deliver writes the full report, passwords of created accounts included.
func (f *FileSink) Deliver(ctx context.Context, r *model.Report) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = f.now()
	}
	dir := filepath.Join(f.Dir, "archive", "results", ts.UTC().Format("20060102_150405"))
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	_, err = writeFile(dir, safeName(r.CompanyID)+"_"+safeName(runID)+"_results.json", b)
	return err
}

// ArchiveUpload stores the raw uploaded file and returns its path.
func (f *FileSink) ArchiveUpload(company, name string, data []byte) (string, error) {
	if name == "" {
		name = "upload.csv"
	}
	dir := filepath.Join(f.Dir, "archive", "raw", safeName(company))
	return writeFile(dir, f.now().UTC().Format("20060102_150405")+"_"+uuid.NewString()+"_"+safeName(name), data)
}

func writeFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, name)
	// results files carry passwords
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return "", err
	}
	if err := fh.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func safeName(s string) string {
	s = filepath.Base(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

// SummarySink prints the human readable summary of each run.
type SummarySink struct {
	W io.Writer
}

func (s SummarySink) Deliver(ctx context.Context, r *model.Report) error {
	_, err := io.WriteString(s.W, report.Summary(r))
	return err
}
