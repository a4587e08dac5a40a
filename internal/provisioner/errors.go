package provisioner

import (
	"errors"
	"fmt"
)

// Run failure kinds. Per-user problems never surface here; they are outcomes.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrDelivery       = errors.New("result delivery error")
	// ErrInterrupted means the run was cut short by shutdown. Nothing is
	// delivered and the message should be processed again.
	ErrInterrupted = errors.New("run interrupted")
)

// RunError is returned when a run is aborted or its report could not be handed
// off. errors.Is matches both the kind and the underlying cause.
type RunError struct {
	Kind      error
	CompanyID string
	Err       error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("company %q: %v: %v", e.CompanyID, e.Kind, e.Err)
	}
	return fmt.Sprintf("company %q: %v", e.CompanyID, e.Kind)
}

func (e *RunError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func runErr(kind error, companyID string, err error) *RunError {
	return &RunError{Kind: kind, CompanyID: companyID, Err: err}
}
