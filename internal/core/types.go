package core

import "queryengine/pkg/domain"

type (
	Kind       = domain.Kind
	Header     = domain.Header
	Atom       = domain.Atom
	Collection = domain.Collection
	Tag        = domain.Tag
	TagSpec    = domain.TagSpec
	Feature    = domain.Feature
	TagSpecSet = domain.TagSpecSet
	FeatureSet = domain.FeatureSet
	Member     = domain.Member
	Value      = domain.Value
	ValueType  = domain.ValueType
	Strand     = domain.Strand
	Backend    = domain.Backend
	Rule       = domain.Rule
	RuleView   = domain.RuleView
	Change     = domain.Change
	Result     = domain.Result
	Violation  = domain.Violation
	Severity   = domain.Severity
)

const (
	KindTag        = domain.KindTag
	KindTagSpec    = domain.KindTagSpec
	KindFeature    = domain.KindFeature
	KindFeatureSet = domain.KindFeatureSet
	KindTagSpecSet = domain.KindTagSpecSet
)
