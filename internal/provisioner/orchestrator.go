// Package provisioner drives one provisioning run: resolve the company,
// parse the upload, create accounts (or pretend to) and hand the report off.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/user-provisioner/internal/metrics"
	"example.com/user-provisioner/internal/model"
	obs "example.com/user-provisioner/internal/observability"
	"example.com/user-provisioner/internal/pacer"
	"example.com/user-provisioner/internal/provider"
	"example.com/user-provisioner/internal/provider/registry"
	"example.com/user-provisioner/internal/report"
	"example.com/user-provisioner/internal/roster"
)

// ConfigResolver looks up a company's provisioning policy.
type ConfigResolver interface {
	Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

// ResultSink receives the report of every completed run.
type ResultSink interface {
	Deliver(ctx context.Context, r *model.Report) error
}

// Waiter spaces provider calls.
type Waiter interface {
	Wait(ctx context.Context) error
}

var errNoUsers = errors.New("no valid users")

type Orchestrator struct {
	configs  ConfigResolver
	sink     ResultSink
	adapters provider.Factory
	pacers   func(model.Provider) Waiter
	logger   *zap.Logger
	metrics  metrics.Recorder
	now      func() time.Time
	newID    func() string
}

type Option func(*Orchestrator)

func WithAdapterFactory(f provider.Factory) Option {
	return func(o *Orchestrator) { o.adapters = f }
}

func WithPacerFactory(f func(model.Provider) Waiter) Option {
	return func(o *Orchestrator) { o.pacers = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(configs ConfigResolver, sink ResultSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs: configs,
		sink:    sink,
		logger:  zap.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.adapters == nil {
		o.adapters = registry.Factory(registry.Options{Logger: o.logger})
	}
	if o.pacers == nil {
		o.pacers = func(p model.Provider) Waiter { return pacer.New(p, pacer.WithLogger(o.logger)) }
	}
	return o
}

// Handle runs a queued message.
func (o *Orchestrator) Handle(ctx context.Context, msg model.Message) (*model.Report, error) {
	return o.Run(ctx, msg.Company, msg.CSV)
}

// Run provisions the users in rawCSV for companyID. A nil report means the run
// was aborted before any account was attempted; a report with an ErrDelivery
// error means the run completed but the sink rejected it.
func (o *Orchestrator) Run(ctx context.Context, companyID, rawCSV string) (*model.Report, error) {
	log := o.logger.With(obs.Company(companyID))
	log.Info("run received", zap.Int("csv_bytes", len(rawCSV)))

	if strings.TrimSpace(companyID) == "" {
		return nil, o.abort(log, "", "", runErr(ErrConfiguration, companyID, errors.New("empty company id")))
	}
	cfg, err := o.configs.Resolve(ctx, companyID)
	if err != nil {
		return nil, o.abort(log, "", "", runErr(ErrConfiguration, companyID, err))
	}
	if cfg.CompanyID == "" {
		cfg.CompanyID = companyID
	}
	mode := model.ModeFor(cfg.DryRun)
	p, err := model.ParseProvider(string(cfg.Provider))
	if err != nil {
		return nil, o.abort(log, cfg.Provider, mode, runErr(ErrConfiguration, companyID, err))
	}
	cfg.Provider = p

	users := roster.Parse(rawCSV)
	if users.Len() == 0 {
		return nil, o.abort(log, cfg.Provider, mode, runErr(ErrValidation, companyID, errNoUsers))
	}
	log = log.With(obs.Provider(cfg.Provider), obs.Mode(mode))
	log.Info("run validated", zap.Int("users", users.Len()), zap.Int("rows_skipped", users.Skipped()), zap.Int("weak_passwords", users.WeakPasswords()))

	var outcomes []model.Outcome
	if cfg.DryRun {
		outcomes = make([]model.Outcome, 0, users.Len())
		for _, u := range users.Records() {
			outcomes = append(outcomes, model.WouldProcess(u.Email))
		}
	} else {
		var fail *RunError
		outcomes, fail = o.live(ctx, cfg, users.Records(), log)
		if fail != nil {
			return nil, o.abort(log, cfg.Provider, mode, fail)
		}
	}

	rep := report.Aggregate(o.newID(), companyID, cfg.Provider, mode, outcomes, o.now())
	for _, out := range rep.Outcomes {
		o.metrics.RecordOutcome(cfg.Provider, out.Action)
	}
	log = log.With(obs.RunID(rep.RunID))
	log.Info("run aggregated", obs.Counts(rep.Counts()))

	// a finished run is recorded even when shutdown has begun
	if err := o.sink.Deliver(context.WithoutCancel(ctx), rep); err != nil {
		o.metrics.RecordRun(cfg.Provider, mode, metrics.ResultDeliveryError)
		log.Error("report delivery failed", zap.Error(err))
		return rep, runErr(ErrDelivery, companyID, err)
	}
	o.metrics.RecordRun(cfg.Provider, mode, metrics.ResultDelivered)
	log.Info("run delivered")
	return rep, nil
}

// live authenticates once and then provisions users strictly in sequence. A
// cancelled ctx aborts the whole run; users already created come back as
// skipped_exists when the message is processed again.
func (o *Orchestrator) live(ctx context.Context, cfg model.CompanyConfig, users []model.UserRecord, log *zap.Logger) ([]model.Outcome, *RunError) {
	adapter, err := o.adapters(cfg)
	if err != nil {
		return nil, runErr(ErrConfiguration, cfg.CompanyID, err)
	}
	if err := adapter.Authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, runErr(ErrInterrupted, cfg.CompanyID, err)
		}
		return nil, runErr(ErrAuthentication, cfg.CompanyID, err)
	}
	log.Info("provider authenticated")

	pace := o.pacers(cfg.Provider)
	outcomes := make([]model.Outcome, 0, len(users))
	for i, u := range users {
		if err := pace.Wait(ctx); err != nil {
			log.Warn("run interrupted", zap.Int("remaining", len(users)-i), zap.Error(err))
			return nil, runErr(ErrInterrupted, cfg.CompanyID, err)
		}
		start := time.Now()
		out := o.createOrDetect(ctx, adapter, u)
		o.metrics.ObserveProviderCall(cfg.Provider, time.Since(start))
		if err := ctx.Err(); err != nil {
			log.Warn("run interrupted", obs.Email(u.Email), zap.Int("remaining", len(users)-i-1), zap.Error(err))
			return nil, runErr(ErrInterrupted, cfg.CompanyID, err)
		}

		fields := []zap.Field{obs.Email(u.Email), obs.Action(out.Action)}
		if out.Action == model.ActionFailed {
			log.Warn("user not provisioned", append(fields, zap.String("error", out.ErrorDetail))...)
		} else {
			log.Info("user processed", fields...)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// createOrDetect shields the batch from a misbehaving adapter.
func (o *Orchestrator) createOrDetect(ctx context.Context, a provider.Adapter, u model.UserRecord) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = model.Failed(u.Email, fmt.Sprintf("adapter panic: %v", r))
		}
	}()
	out = a.CreateOrDetect(ctx, u)
	out.Email = u.Email
	return out
}

func (o *Orchestrator) abort(log *zap.Logger, p model.Provider, mode model.Mode, err *RunError) error {
	result := metrics.ResultConfigError
	switch {
	case errors.Is(err, ErrValidation):
		result = metrics.ResultValidation
		log.Warn("run aborted", zap.Error(err))
	case errors.Is(err, ErrAuthentication):
		result = metrics.ResultAuthentication
		log.Error("run aborted", zap.Error(err))
	case errors.Is(err, ErrInterrupted):
		result = metrics.ResultInterrupted
		log.Warn("run aborted", zap.Error(err))
	default:
		log.Error("run aborted", zap.Error(err))
	}
	o.metrics.RecordRun(p, mode, result)
	return err
}
