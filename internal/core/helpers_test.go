package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"queryengine/internal/infra/persistence/memory"
	"queryengine/pkg/domain"
)

func stringValue(s string) domain.Value { return domain.StringValue(s) }

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc := NewService(memory.NewStore(), opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// fixedClock returns a clock advancing one second per call from a fixed origin.
func fixedClock() func() time.Time {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func mustCommit(t *testing.T, m *CreateUpdateManager) CommitResult {
	t.Helper()
	res, err := m.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return res
}

// seedSpecs commits n tag specifications keyed key-000, key-001, ... and a
// TagSpecSet holding all of them.
func seedSpecs(t *testing.T, svc *Service, n int) (domain.TagSpecSet, []domain.TagSpec) {
	t.Helper()
	m := svc.NewManager()
	specs := make([]domain.TagSpec, 0, n)
	set := NewTagSpecSetBuilder().SetManager(m).SetName("specs")
	for i := range n {
		spec, err := NewTagSpecBuilder().SetManager(m).
			SetKey(fmt.Sprintf("key-%03d", i)).
			SetType(domain.ValueString).
			Build()
		if err != nil {
			t.Fatalf("build spec %d: %v", i, err)
		}
		specs = append(specs, spec)
		set = set.Add(spec)
	}
	built, err := set.Build()
	if err != nil {
		t.Fatalf("build set: %v", err)
	}
	mustCommit(t, m)
	return built, specs
}
