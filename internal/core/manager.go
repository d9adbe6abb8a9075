package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"queryengine/pkg/domain"
)

// ErrManagerClosed is returned by every call on a manager that has left the
// open state.
var ErrManagerClosed = errors.New("create/update manager is closed")

// ManagerState is the lifecycle position of a CreateUpdateManager.
type ManagerState int

// Manager states. Committed and aborted are terminal.
const (
	ManagerOpen ManagerState = iota
	ManagerCommitting
	ManagerCommitted
	ManagerAborted
)

func (s ManagerState) String() string {
	switch s {
	case ManagerOpen:
		return "open"
	case ManagerCommitting:
		return "committing"
	case ManagerCommitted:
		return "committed"
	case ManagerAborted:
		return "aborted"
	default:
		return fmt.Sprintf("ManagerState(%d)", int(s))
	}
}

// CommitResult reports what a successful commit persisted.
type CommitResult struct {
	// Headers lists the committed versions in staging order.
	Headers []domain.Header
	// Result carries the non-blocking rule violations raised during commit.
	Result domain.Result
}

// CreateUpdateManager is a unit of work: it accumulates pending atom versions
// and commits them to the backend as one atomic, conflict-checked batch. A
// manager is used for a single transaction and cannot be reopened.
type CreateUpdateManager struct {
	mu      sync.Mutex
	backend domain.Backend
	rules   *domain.RulesEngine
	obs     observability
	state   ManagerState
	order   []string
	pending map[string]domain.Atom
}

func newManager(backend domain.Backend, rules *domain.RulesEngine, obs observability) *CreateUpdateManager {
	return &CreateUpdateManager{
		backend: backend,
		rules:   rules,
		obs:     obs,
		pending: make(map[string]domain.Atom),
	}
}

// clock returns the timestamp used for new version headers. A nil manager
// falls back to the wall clock so that unbound builders still work.
func (m *CreateUpdateManager) clock() time.Time {
	if m == nil || m.obs.now == nil {
		return time.Now().UTC()
	}
	return m.obs.now()
}

// State returns the current lifecycle state.
func (m *CreateUpdateManager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stage adds a pending version and returns the value that will be committed
// for its identity. Staging an identity that is already pending keeps its
// position and replaces the value with the newer one; when the newer value was
// built on top of the pending one the two collapse into the pending header and
// set membership changes accumulate.
func (m *CreateUpdateManager) Stage(atom domain.Atom) (domain.Atom, error) {
	if atom == nil {
		return nil, errors.New("stage: nil atom")
	}
	h := atom.Meta()
	if h.ID == "" {
		return nil, domain.IncompleteAtomError{Kind: atom.Kind(), Field: "id"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ManagerOpen {
		return nil, ErrManagerClosed
	}
	prev, ok := m.pending[h.ID]
	if !ok {
		m.order = append(m.order, h.ID)
		m.pending[h.ID] = atom
		return atom, nil
	}
	if prev.Kind() != atom.Kind() {
		return nil, domain.InvalidAtomError{
			Kind:   atom.Kind(),
			Field:  "kind",
			Reason: fmt.Sprintf("identity %s is already staged as %s", h.ID, prev.Kind()),
		}
	}
	staged := collapse(prev, atom)
	m.pending[h.ID] = staged
	m.obs.logger.Debug("collapsed pending version", "id", h.ID, "kind", atom.Kind(), "version", staged.Meta().Version)
	return staged, nil
}

// collapse merges next into prev when next was derived from the pending
// version; otherwise next simply replaces prev.
func collapse(prev, next domain.Atom) domain.Atom {
	ph, nh := prev.Meta(), next.Meta()
	if nh.Predecessor != ph.Version || nh.Version == ph.Version {
		return next
	}
	merged := domain.Stamp(next, domain.Header{
		ID:          ph.ID,
		Version:     ph.Version,
		Predecessor: ph.Predecessor,
		CreatedAt:   nh.CreatedAt,
	})
	pc, okPrev := prev.(domain.Collection)
	nc, okNext := next.(domain.Collection)
	if okPrev && okNext {
		merged = domain.WithMembers(merged, pc.Delta().Merge(nc.Delta()))
	}
	return merged
}

// Pending returns the staged versions in staging order.
func (m *CreateUpdateManager) Pending() []domain.Atom {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *CreateUpdateManager) snapshot() []domain.Atom {
	out := make([]domain.Atom, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.pending[id])
	}
	return out
}

// Abort discards every pending version without contacting the backend.
func (m *CreateUpdateManager) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ManagerOpen {
		return ErrManagerClosed
	}
	m.state = ManagerAborted
	m.obs.logger.Debug("manager aborted", "discarded", len(m.order))
	m.release()
	return nil
}

func (m *CreateUpdateManager) release() {
	m.pending = nil
	m.order = nil
}

// Commit checks every pending version against the backend's latest version
// and persists the batch atomically. Any conflict, blocking rule violation or
// backend failure aborts the whole batch and leaves the manager aborted.
func (m *CreateUpdateManager) Commit(ctx context.Context) (CommitResult, error) {
	m.mu.Lock()
	if m.state != ManagerOpen {
		m.mu.Unlock()
		return CommitResult{}, ErrManagerClosed
	}
	m.state = ManagerCommitting
	atoms := m.snapshot()
	m.mu.Unlock()

	started := time.Now()
	ctx, finish := m.obs.begin(ctx, "commit")
	res, err := m.commit(ctx, atoms)
	finish(err)
	took := time.Since(started)

	m.mu.Lock()
	if err != nil {
		m.state = ManagerAborted
	} else {
		m.state = ManagerCommitted
	}
	m.release()
	m.mu.Unlock()

	for _, atom := range atoms {
		m.obs.record(ctx, "commit", atom.Kind(), atom.Meta(), err, took)
	}
	switch {
	case err == nil:
		m.obs.logger.Info("commit succeeded", "versions", len(atoms), "duration", took)
		for _, v := range res.Result.Violations {
			m.obs.logger.Warn("rule violation", "rule", v.Rule, "severity", v.Severity, "id", v.ID, "message", v.Message)
		}
	case domain.IsConflict(err):
		m.obs.logger.Warn("commit conflict", "versions", len(atoms), "error", err)
	default:
		m.obs.logger.Error("commit failed", "versions", len(atoms), "error", err)
	}
	return res, err
}

func (m *CreateUpdateManager) commit(ctx context.Context, atoms []domain.Atom) (CommitResult, error) {
	if len(atoms) == 0 {
		return CommitResult{}, nil
	}
	for _, atom := range atoms {
		if err := m.checkLatest(ctx, atom); err != nil {
			return CommitResult{}, err
		}
	}

	var result domain.Result
	if m.rules != nil && m.rules.Len() > 0 {
		changes := make([]domain.Change, 0, len(atoms))
		for _, atom := range atoms {
			changes = append(changes, domain.ChangeFor(atom))
		}
		view := pendingView{backend: m.backend, pending: make(map[string]domain.Atom, len(atoms))}
		for _, atom := range atoms {
			view.pending[atom.Meta().ID] = atom
		}
		var err error
		result, err = m.rules.Evaluate(ctx, view, changes)
		if err != nil {
			return CommitResult{}, errors.Wrap(err, "evaluate rules")
		}
		if result.HasBlocking() {
			return CommitResult{Result: result}, domain.RuleViolationError{Result: result}
		}
	}

	records := make([]domain.Record, 0, len(atoms))
	headers := make([]domain.Header, 0, len(atoms))
	for _, atom := range atoms {
		rec, err := domain.Encode(atom)
		if err != nil {
			return CommitResult{}, err
		}
		records = append(records, rec)
		headers = append(headers, rec.Header)
	}
	if err := m.backend.PersistBatch(ctx, records); err != nil {
		return CommitResult{}, domain.WithRetryHint(domain.WrapBackend("persist batch", err))
	}
	return CommitResult{Headers: headers, Result: result}, nil
}

// checkLatest compares the declared predecessor of atom with the backend's
// latest version. The backend repeats this check atomically in PersistBatch;
// doing it first keeps rules from running against a batch that cannot commit.
func (m *CreateUpdateManager) checkLatest(ctx context.Context, atom domain.Atom) error {
	h := atom.Meta()
	rec, ok, err := m.backend.FetchLatest(ctx, h.ID)
	if err != nil {
		return domain.WrapBackend("fetch latest", err)
	}
	var actual uint64
	if ok {
		actual = rec.Header.Version
	}
	if actual != h.Predecessor {
		return domain.WithRetryHint(domain.ConflictError{ID: h.ID, Expected: h.Predecessor, Actual: actual})
	}
	if ok && rec.Kind != atom.Kind() {
		return domain.InvalidAtomError{
			Kind:   atom.Kind(),
			Field:  "kind",
			Reason: fmt.Sprintf("identity %s is stored as %s", h.ID, rec.Kind),
		}
	}
	return nil
}

// pendingView resolves atoms for rules, preferring versions staged in the
// batch being committed.
type pendingView struct {
	backend domain.Backend
	pending map[string]domain.Atom
}

func (v pendingView) Resolve(ctx context.Context, id string, version uint64) (domain.Atom, bool, error) {
	if atom, ok := v.pending[id]; ok && (version == 0 || atom.Meta().Version == version) {
		return atom, true, nil
	}
	var (
		rec domain.Record
		ok  bool
		err error
	)
	if version == 0 {
		rec, ok, err = v.backend.FetchLatest(ctx, id)
	} else {
		rec, ok, err = v.backend.FetchVersion(ctx, id, version)
	}
	if err != nil || !ok {
		return nil, false, domain.WrapBackend("resolve", err)
	}
	atom, err := domain.Decode(rec)
	if err != nil {
		return nil, false, err
	}
	return atom, true, nil
}
