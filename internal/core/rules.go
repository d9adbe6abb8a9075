package core

import (
	"context"
	"fmt"

	"queryengine/pkg/domain"
)

// NewRulesEngine constructs an empty engine. Commits through a manager with
// an empty engine skip member validation, which bulk imports rely on.
func NewRulesEngine() *domain.RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewMemberKindRule())
	engine.Register(NewFeatureTagsRule())
	return engine
}

// memberKindRule blocks set versions whose added members do not resolve to an
// atom of the set's member kind stored under its natural key.
type memberKindRule struct{}

// NewMemberKindRule returns the set membership validation rule.
func NewMemberKindRule() domain.Rule {
	return memberKindRule{}
}

func (memberKindRule) Name() string { return "member_kind" }

func (r memberKindRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		set, ok := change.After.(domain.Collection)
		if !ok {
			continue
		}
		h := set.Meta()
		for _, m := range set.Delta().Add {
			atom, found, err := view.Resolve(ctx, m.ID, m.Version)
			if err != nil {
				return domain.Result{}, err
			}
			var msg string
			switch {
			case !found:
				msg = fmt.Sprintf("member %q references missing %s %s v%d", m.Key, set.MemberKind(), m.ID, m.Version)
			case atom.Kind() != set.MemberKind():
				msg = fmt.Sprintf("member %q is a %s, want %s", m.Key, atom.Kind(), set.MemberKind())
			case naturalKey(atom) != m.Key:
				msg = fmt.Sprintf("member %q is stored under the wrong key, want %q", m.Key, naturalKey(atom))
			default:
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  msg,
				Kind:     set.Kind(),
				ID:       h.ID,
			})
		}
	}
	return res, nil
}

// naturalKey is the key a member atom is stored under inside a set.
func naturalKey(atom domain.Atom) string {
	if spec, ok := atom.(domain.TagSpec); ok {
		return spec.Key
	}
	return atom.Meta().ID
}

// featureTagsRule warns when a feature references tags that do not exist.
type featureTagsRule struct{}

// NewFeatureTagsRule returns the tag reference check for features.
func NewFeatureTagsRule() domain.Rule {
	return featureTagsRule{}
}

func (featureTagsRule) Name() string { return "feature_tags" }

func (r featureTagsRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		f, ok := change.After.(domain.Feature)
		if !ok {
			continue
		}
		for _, id := range f.TagIDs {
			atom, found, err := view.Resolve(ctx, id, 0)
			if err != nil {
				return domain.Result{}, err
			}
			if found && atom.Kind() == domain.KindTag {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("feature references unknown tag %s", id),
				Kind:     domain.KindFeature,
				ID:       f.ID,
			})
		}
	}
	return res, nil
}
