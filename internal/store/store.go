package store

import (
	"context"
	"errors"

	"example.com/user-provisioner/internal/model"
)

var ErrNotFound = errors.New("run not found")

// Sink receives finished run reports.
type Sink interface {
	Deliver(ctx context.Context, r *model.Report) error
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, r *model.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
