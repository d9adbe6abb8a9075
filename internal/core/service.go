package core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"queryengine/pkg/domain"
)

// Service exposes the read and transaction API over one backend.
type Service struct {
	backend  domain.Backend
	rules    *domain.RulesEngine
	obs      observability
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.obs.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.obs.metrics = rec
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.obs.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink for commits.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.obs.audit = rec
		}
	}
}

// WithClock overrides the clock stamping new versions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.obs.now = now
		}
	}
}

// WithRulesEngine replaces the default rules. A nil engine disables rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.rules = engine }
}

// WithPageSize sets how many members set views fetch per backend page.
func WithPageSize(n int) Option {
	return func(s *Service) { s.pageSize = domain.PageLimit(n) }
}

// NewService constructs a service over backend with the default rules.
func NewService(backend domain.Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		rules:    NewDefaultRulesEngine(),
		obs:      defaultObservability(),
		pageSize: domain.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying storage implementation.
func (s *Service) Backend() domain.Backend { return s.backend }

// Logger returns the configured logger.
func (s *Service) Logger() Logger { return s.obs.logger }

// NewManager opens a unit of work.
func (s *Service) NewManager() *CreateUpdateManager {
	return newManager(s.backend, s.rules, s.obs)
}

// Latest returns the latest committed version of id.
func (s *Service) Latest(ctx context.Context, id string) (atom domain.Atom, err error) {
	ctx, finish := s.obs.begin(ctx, "latest")
	defer func() { finish(err) }()
	rec, ok, err := s.backend.FetchLatest(ctx, id)
	if err != nil {
		return nil, domain.WrapBackend("fetch latest", err)
	}
	if !ok {
		return nil, domain.NotFoundError{ID: id}
	}
	return domain.Decode(rec)
}

// Version returns one historical version of id.
func (s *Service) Version(ctx context.Context, id string, version uint64) (atom domain.Atom, err error) {
	ctx, finish := s.obs.begin(ctx, "version")
	defer func() { finish(err) }()
	rec, ok, err := s.backend.FetchVersion(ctx, id, version)
	if err != nil {
		return nil, domain.WrapBackend("fetch version", err)
	}
	if !ok {
		return nil, domain.NotFoundError{ID: id, Version: version}
	}
	return domain.Decode(rec)
}

// History lists the headers of every committed version of id, oldest first.
func (s *Service) History(ctx context.Context, id string) (headers []domain.Header, err error) {
	ctx, finish := s.obs.begin(ctx, "history")
	defer func() { finish(err) }()
	headers, err = s.backend.History(ctx, id)
	if err != nil {
		return nil, domain.WrapBackend("history", err)
	}
	if len(headers) == 0 {
		return nil, domain.NotFoundError{ID: id}
	}
	return headers, nil
}

// load reads id (at version, or latest when version is zero) and asserts its kind.
func load[T domain.Atom](ctx context.Context, s *Service, kind domain.Kind, id string, version uint64) (T, error) {
	var (
		zero T
		atom domain.Atom
		err  error
	)
	if version == 0 {
		atom, err = s.Latest(ctx, id)
	} else {
		atom, err = s.Version(ctx, id, version)
	}
	if err != nil {
		var nf domain.NotFoundError
		if errors.As(err, &nf) {
			nf.Kind = kind
			return zero, nf
		}
		return zero, err
	}
	out, ok := atom.(T)
	if !ok {
		return zero, domain.NotFoundError{Kind: kind, ID: id, Version: version}
	}
	return out, nil
}

// LoadTag returns the latest version of a tag.
func (s *Service) LoadTag(ctx context.Context, id string) (domain.Tag, error) {
	return load[domain.Tag](ctx, s, domain.KindTag, id, 0)
}

// LoadTagAt returns one version of a tag.
func (s *Service) LoadTagAt(ctx context.Context, id string, version uint64) (domain.Tag, error) {
	return load[domain.Tag](ctx, s, domain.KindTag, id, version)
}

// LoadTagSpec returns the latest version of a tag specification.
func (s *Service) LoadTagSpec(ctx context.Context, id string) (domain.TagSpec, error) {
	return load[domain.TagSpec](ctx, s, domain.KindTagSpec, id, 0)
}

// LoadTagSpecAt returns one version of a tag specification.
func (s *Service) LoadTagSpecAt(ctx context.Context, id string, version uint64) (domain.TagSpec, error) {
	return load[domain.TagSpec](ctx, s, domain.KindTagSpec, id, version)
}

// LoadFeature returns the latest version of a feature.
func (s *Service) LoadFeature(ctx context.Context, id string) (domain.Feature, error) {
	return load[domain.Feature](ctx, s, domain.KindFeature, id, 0)
}

// LoadFeatureAt returns one version of a feature.
func (s *Service) LoadFeatureAt(ctx context.Context, id string, version uint64) (domain.Feature, error) {
	return load[domain.Feature](ctx, s, domain.KindFeature, id, version)
}

// LoadTagSpecSet returns a view of the latest version of a tag specification set.
func (s *Service) LoadTagSpecSet(ctx context.Context, id string) (TagSpecSetView, error) {
	return s.LoadTagSpecSetAt(ctx, id, 0)
}

// LoadTagSpecSetAt returns a view of one version of a tag specification set;
// version zero selects the latest.
func (s *Service) LoadTagSpecSetAt(ctx context.Context, id string, version uint64) (TagSpecSetView, error) {
	set, err := load[domain.TagSpecSet](ctx, s, domain.KindTagSpecSet, id, version)
	if err != nil {
		return TagSpecSetView{}, err
	}
	return TagSpecSetView{Set: set, SetView: newSetView(s.backend, set, s.pageSize)}, nil
}

// LoadFeatureSet returns a view of the latest version of a feature set.
func (s *Service) LoadFeatureSet(ctx context.Context, id string) (FeatureSetView, error) {
	return s.LoadFeatureSetAt(ctx, id, 0)
}

// LoadFeatureSetAt returns a view of one version of a feature set; version
// zero selects the latest.
func (s *Service) LoadFeatureSetAt(ctx context.Context, id string, version uint64) (FeatureSetView, error) {
	set, err := load[domain.FeatureSet](ctx, s, domain.KindFeatureSet, id, version)
	if err != nil {
		return FeatureSetView{}, err
	}
	return FeatureSetView{Set: set, SetView: newSetView(s.backend, set, s.pageSize)}, nil
}

// Retry runs fn against a fresh manager and commits it, repeating up to
// attempts times while the commit fails with a version conflict. fn must
// re-read whatever it builds on, since each attempt starts from the latest
// committed state. Errors returned by fn abort the attempt and are returned
// as is.
func (s *Service) Retry(ctx context.Context, attempts int, fn func(ctx context.Context, m *CreateUpdateManager) error) (CommitResult, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return CommitResult{}, err
		}
		m := s.NewManager()
		if err := fn(ctx, m); err != nil {
			_ = m.Abort()
			return CommitResult{}, err
		}
		res, err := m.Commit(ctx)
		if err == nil {
			return res, nil
		}
		if !domain.IsConflict(err) {
			return CommitResult{}, err
		}
		lastErr = err
		s.obs.logger.Warn("retrying after conflict", "attempt", attempt, "of", attempts, "error", err)
	}
	return CommitResult{}, errors.Wrapf(lastErr, "giving up after %d attempts", attempts)
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}
