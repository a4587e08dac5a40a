package provider

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

type Class int

const (
	ClassOK Class = iota
	// ClassBackoff responses are throttling or transient server errors.
	ClassBackoff
	ClassFail
)

// Classify maps an HTTP status to how the caller should react.
func Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassOK
	case status == http.StatusTooManyRequests:
		return ClassBackoff
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return ClassBackoff
	default:
		return ClassFail
	}
}

// Retry re-sends throttled requests with exponential backoff, honouring
// Retry-After when the provider sends one.
type Retry struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetry() Retry {
	return Retry{Attempts: 3, Base: time.Second, Max: 30 * time.Second, Sleep: sleepCtx}
}

// Backoff is the delay before retry number attempt (0-based).
func (r Retry) Backoff(attempt int) time.Duration {
	delay := r.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > r.Max {
			return r.Max
		}
	}
	return delay
}

// Do calls send until it returns a non-backoff response or attempts run out.
// send must build a fresh request each time.
func (r Retry) Do(ctx context.Context, send func() (*http.Response, error)) (*http.Response, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 0; ; attempt++ {
		resp, err := send()
		if err != nil {
			return nil, err
		}
		if Classify(resp.StatusCode) != ClassBackoff || attempt >= r.Attempts {
			return resp, nil
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = r.Backoff(attempt)
		}
		if r.Max > 0 && wait > r.Max {
			wait = r.Max
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
