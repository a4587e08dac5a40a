package provisioner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/provider"
)

var errNotFound = errors.New("company not found")

type mapResolver map[string]model.CompanyConfig

func (m mapResolver) Resolve(ctx context.Context, id string) (model.CompanyConfig, error) {
	cfg, ok := m[id]
	if !ok {
		return model.CompanyConfig{}, errNotFound
	}
	cfg.CompanyID = id
	return cfg, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*model.Report
	err     error
}

func (s *recordingSink) Deliver(ctx context.Context, r *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.err
}

// fakeAdapter is a call-counting directory double. Emails in existing are
// reported as already present; created accounts are added to it.
type fakeAdapter struct {
	name     model.Provider
	authErr  error
	fail     map[string]string
	panicOn  string
	existing map[string]bool

	authCalls   int
	createCalls int
}

func (a *fakeAdapter) Name() model.Provider { return a.name }

func (a *fakeAdapter) Authenticate(ctx context.Context) error {
	a.authCalls++
	return a.authErr
}

func (a *fakeAdapter) CreateOrDetect(ctx context.Context, u model.UserRecord) model.Outcome {
	a.createCalls++
	if u.Email == a.panicOn {
		panic("boom")
	}
	if msg, ok := a.fail[u.Email]; ok {
		return model.Failed(u.Email, msg)
	}
	if a.existing[u.Email] {
		return model.SkippedExists(u.Email)
	}
	a.existing[u.Email] = true
	return model.Created(u.Email, "id-"+u.Email, u.Password)
}

type countingPacer struct{ waits int }

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

type harness struct {
	orch      *Orchestrator
	sink      *recordingSink
	adapter   *fakeAdapter
	pacer     *countingPacer
	factories int
}

func newHarness(configs mapResolver) *harness {
	h := &harness{
		sink:    &recordingSink{},
		adapter: &fakeAdapter{existing: map[string]bool{}, fail: map[string]string{}},
		pacer:   &countingPacer{},
	}
	h.orch = New(configs, h.sink,
		WithAdapterFactory(func(cfg model.CompanyConfig) (provider.Adapter, error) {
			h.factories++
			h.adapter.name = cfg.Provider
			return h.adapter, nil
		}),
		WithPacerFactory(func(model.Provider) Waiter { return h.pacer }),
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	return h
}

const threeUsers = "email,first_name,last_name\na@x.com,A,One\nb@x.com,B,Two\nc@x.com,C,Three\n"

func TestRun_DryRunMakesNoProviderCalls(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft, DryRun: true}})

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)

	assert.Equal(t, model.ModeDryRun, rep.Mode)
	assert.Equal(t, 3, rep.TotalUsers)
	for _, o := range rep.Outcomes {
		assert.Equal(t, model.ActionWouldProcess, o.Action)
		assert.Empty(t, o.Password)
	}
	assert.Equal(t, 0, h.factories)
	assert.Equal(t, 0, h.adapter.authCalls)
	assert.Equal(t, 0, h.adapter.createCalls)
	assert.Equal(t, 0, h.pacer.waits)
	require.Len(t, h.sink.reports, 1)
	assert.Same(t, rep, h.sink.reports[0])
}

func TestRun_GoogleAlreadyExists(t *testing.T) {
	h := newHarness(mapResolver{"acme": {Provider: model.Google}})
	h.adapter.existing["bob@acme.com"] = true

	rep, err := h.orch.Run(context.Background(), "acme", "email,first_name,last_name\nbob@acme.com,Bob,B\n")
	require.NoError(t, err)

	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, model.ActionSkippedExists, rep.Outcomes[0].Action)
	c := rep.Counts()
	assert.Equal(t, 1, c.Skipped)
	assert.Equal(t, 0, c.Created)
	assert.Equal(t, 0, c.Failed)
}

func TestRun_UnknownCompany(t *testing.T) {
	h := newHarness(mapResolver{})

	rep, err := h.orch.Run(context.Background(), "nobody", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, errNotFound)
	assert.Empty(t, h.sink.reports)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "nobody", runErr.CompanyID)
}

func TestRun_EmptyCompanyID(t *testing.T) {
	h := newHarness(mapResolver{"": {Provider: model.Google}})
	_, err := h.orch.Run(context.Background(), "  ", threeUsers)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRun_UnsupportedProvider(t *testing.T) {
	h := newHarness(mapResolver{"x": {Provider: "okta"}})

	rep, err := h.orch.Run(context.Background(), "x", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 0, h.factories)
	assert.Empty(t, h.sink.reports)
}

func TestRun_NoValidUsers(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})

	for _, csv := range []string{"", "email\nnot-an-email\n", "name\nfoo\n"} {
		rep, err := h.orch.Run(context.Background(), "contoso", csv)
		assert.Nil(t, rep)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Equal(t, 0, h.adapter.authCalls)
	assert.Empty(t, h.sink.reports)
}

func TestRun_AuthenticationFailureAbortsBatch(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})
	h.adapter.authErr = provider.ErrAuthentication

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 0, h.adapter.createCalls)
	assert.Empty(t, h.sink.reports)
}

func TestRun_AdapterFactoryError(t *testing.T) {
	sink := &recordingSink{}
	orch := New(mapResolver{"contoso": {Provider: model.Microsoft}}, sink,
		WithAdapterFactory(func(model.CompanyConfig) (provider.Adapter, error) {
			return nil, provider.ErrMissingCredentials
		}))

	_, err := orch.Run(context.Background(), "contoso", threeUsers)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestRun_LiveTotalsAndOrder(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})
	h.adapter.existing["b@x.com"] = true
	h.adapter.fail["c@x.com"] = "Insufficient privileges"

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)

	assert.Equal(t, model.ModeLive, rep.Mode)
	c := rep.Counts()
	assert.Equal(t, rep.TotalUsers, len(rep.Outcomes))
	assert.Equal(t, rep.TotalUsers, c.Created+c.Skipped+c.Failed)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, emails(rep))
	assert.NotEmpty(t, rep.Outcomes[0].Password)
	assert.Empty(t, rep.Outcomes[1].Password)
	assert.Equal(t, "Insufficient privileges", rep.Outcomes[2].ErrorDetail)
	assert.Equal(t, 1, h.adapter.authCalls)
	assert.Equal(t, 3, h.pacer.waits)
	assert.Equal(t, 1, h.factories)
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})

	first, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)
	second, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Counts().Created)
	assert.Equal(t, 3, second.Counts().Skipped)
	assert.Equal(t, 0, second.Counts().Created)
	assert.Len(t, h.adapter.existing, 3)
}

func TestRun_AdapterPanicIsPerUser(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})
	h.adapter.panicOn = "b@x.com"

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)
	assert.Equal(t, model.ActionFailed, rep.Outcomes[1].Action)
	assert.True(t, strings.Contains(rep.Outcomes[1].ErrorDetail, "boom"))
	assert.Equal(t, model.ActionCreated, rep.Outcomes[2].Action)
}

func TestRun_CancelledBeforeFirstUserIsInterrupted(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := h.orch.Run(ctx, "contoso", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.adapter.createCalls)
	assert.Empty(t, h.sink.reports)
}

// cancellingPacer cancels the run once it has let n calls through.
type cancellingPacer struct {
	n      int
	cancel context.CancelFunc
}

func (p *cancellingPacer) Wait(ctx context.Context) error {
	if p.n == 0 {
		p.cancel()
	}
	p.n--
	return ctx.Err()
}

func TestRun_CancelledMidBatchDeliversNothing(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.pacers = func(model.Provider) Waiter { return &cancellingPacer{n: 2, cancel: cancel} }

	rep, err := h.orch.Run(ctx, "contoso", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 2, h.adapter.createCalls)
	assert.Empty(t, h.sink.reports)

	// processing the message again finishes the batch without duplicates
	rep, err = h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Counts().Skipped)
	assert.Equal(t, 1, rep.Counts().Created)
}

// blockingAdapter cancels the run while a create call is in flight.
type blockingAdapter struct {
	fakeAdapter
	cancel context.CancelFunc
}

func (a *blockingAdapter) CreateOrDetect(ctx context.Context, u model.UserRecord) model.Outcome {
	a.cancel()
	<-ctx.Done()
	return model.Failed(u.Email, ctx.Err().Error())
}

func TestRun_CancelledDuringProviderCallIsInterrupted(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := &blockingAdapter{cancel: cancel}
	orch := New(mapResolver{"contoso": {Provider: model.Microsoft}}, sink,
		WithAdapterFactory(func(model.CompanyConfig) (provider.Adapter, error) { return adapter, nil }),
		WithPacerFactory(func(model.Provider) Waiter { return &countingPacer{} }),
	)

	rep, err := orch.Run(ctx, "contoso", threeUsers)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, sink.reports)
}

func TestRun_NormalizesProviderName(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: " Microsoft ", DryRun: true}})
	var seen model.Provider
	h.orch.pacers = func(p model.Provider) Waiter { seen = p; return h.pacer }

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)
	assert.Equal(t, model.Microsoft, rep.Provider)

	h.sink.reports = nil
	h.orch.configs = mapResolver{"contoso": {Provider: "GOOGLE"}}
	rep, err = h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NoError(t, err)
	assert.Equal(t, model.Google, rep.Provider)
	assert.Equal(t, model.Google, seen)
	assert.Equal(t, model.Google, h.adapter.name)
}

func TestRun_DeliveryFailureReturnsReport(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft, DryRun: true}})
	h.sink.err = errors.New("disk full")

	rep, err := h.orch.Run(context.Background(), "contoso", threeUsers)
	require.NotNil(t, rep)
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestHandle(t *testing.T) {
	h := newHarness(mapResolver{"contoso": {Provider: model.Microsoft, DryRun: true}})
	rep, err := h.orch.Handle(context.Background(), model.Message{Company: "contoso", CSV: threeUsers})
	require.NoError(t, err)
	assert.Equal(t, "contoso", rep.CompanyID)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rep.Timestamp)
}

func emails(r *model.Report) []string {
	out := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out = append(out, o.Email)
	}
	return out
}
