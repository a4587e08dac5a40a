// Package provider defines the account-creation capability implemented once
// per identity provider.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"example.com/user-provisioner/internal/model"
)

var (
	// ErrAuthentication aborts a whole provider batch.
	ErrAuthentication      = errors.New("provider authentication failed")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMissingCredentials  = errors.New("missing provider credentials")
)

const (
	DefaultTimeout = 30 * time.Second
	MaxErrorDetail = 200
)

// Adapter creates accounts in one identity provider. CreateOrDetect never
// fails across a user boundary: every problem is reported in the Outcome.
type Adapter interface {
	Name() model.Provider
	Authenticate(ctx context.Context) error
	CreateOrDetect(ctx context.Context, u model.UserRecord) model.Outcome
}

// Factory builds the adapter for a company. It is called at most once per run.
type Factory func(cfg model.CompanyConfig) (Adapter, error)

// NewHTTPClient returns a client with the per-call provider timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
