package domain

import "context"

// Severity indicates how a violation affects a commit.
type Severity string

// Rule severities.
const (
	// SeverityBlock aborts the commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates whether a pending version creates an identity or supersedes one.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change describes one pending version evaluated by rules before commit.
type Change struct {
	Kind   Kind
	Action Action
	After  Atom
}

// ChangeFor derives the change describing atom.
func ChangeFor(atom Atom) Change {
	action := ActionUpdate
	if atom.Meta().IsFirst() {
		action = ActionCreate
	}
	return Change{Kind: atom.Kind(), Action: action, After: atom}
}

// RuleView resolves atom versions for rules, preferring versions pending in
// the same batch over committed ones. Version zero resolves the latest version.
type RuleView interface {
	Resolve(ctx context.Context, id string, version uint64) (Atom, bool, error)
}

// Rule defines an evaluation executed at commit, before the batch reaches the backend.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Len returns the number of registered rules.
func (e *RulesEngine) Len() int { return len(e.rules) }

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Kind     Kind
	ID       string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "commit blocked by rule " + v.Rule + ": " + v.Message
		}
	}
	return "commit blocked by rules"
}
