// Package draft implements the settings draft resolver (C9): a small
// declarative language describing a two-team ban/pick protocol over a tree
// of settings, with pattern matching in the expansion phase. Ported
// faithfully from the ootrstats draft spec (original_source/crate/ootrstats/
// src/draft/mod.rs); the random-completion algorithm and the match
// resolution rules are reproduced choice-for-choice.
package draft

import (
	"fmt"
	"math/rand"
)

// Team is one of the two drafting parties.
type Team int

const (
	TeamA Team = iota
	TeamB
)

// Defaultable controls whether a Pick step may additionally fix a setting
// to its default value.
type Defaultable int

const (
	DefaultableFalse Defaultable = iota
	DefaultableTrue
	DefaultableHasPicked
)

// StepKind distinguishes a Ban step from a Pick step.
type StepKind int

const (
	StepBan StepKind = iota
	StepPick
)

// Step is one entry of the draft schedule.
type Step struct {
	Team        Team
	Kind        StepKind
	Skippable   bool
	Defaultable Defaultable // meaningful only when Kind == StepPick
}

// Setting is one setting's declared option set: a default plus the other
// (non-default) options.
type Setting struct {
	Default string
	Other   map[string]bool
}

// ExprKind tags an Expr node.
type ExprKind int

const (
	ExprBool ExprKind = iota
	ExprNumber
	ExprString
	ExprArray
	ExprObject
	ExprSettingRef
	ExprMatch
)

// Expr is a node of the settings expression tree. Exactly the fields
// matching Kind are populated; this is the kind-tagged-record idiom used in
// place of a native sum type.
type Expr struct {
	Kind ExprKind

	Bool   bool
	Number float64
	String string
	Array  []Expr
	Object map[string]Expr

	SettingRef string

	Match *MatchExpr
}

// MatchExpr is the Match variant of Expr: select an arm by the resolved
// value of Setting, falling back to Fallback when present.
type MatchExpr struct {
	Setting  string
	Arms     map[string]Expr
	Fallback *Expr
}

// Spec is a complete draft: the settings groups, the step schedule, and the
// expression tree evaluated against the resolved picks.
type Spec struct {
	Groups   map[string]map[string]Setting
	Steps    []Step
	Settings Expr
}

// ResolveError is returned by Expr.Resolve and Spec.CompleteRandomly.
type ResolveError struct {
	Kind    ResolveErrorKind
	Setting string
	Option  string
	Value   interface{}
}

// ResolveErrorKind distinguishes the four ways resolution can fail.
type ResolveErrorKind int

const (
	ErrMissingOption ResolveErrorKind = iota
	ErrNonObjectSettings
	ErrUnknownOption
	ErrUnknownSetting
)

func (e *ResolveError) Error() string {
	switch e.Kind {
	case ErrMissingOption:
		return fmt.Sprintf("match draft setting %s missing arm for option %q", e.Setting, e.Option)
	case ErrNonObjectSettings:
		return fmt.Sprintf("settings should be an object, got %#v", e.Value)
	case ErrUnknownOption:
		return fmt.Sprintf("tried to match on unknown option %q of draft setting %s", e.Option, e.Setting)
	case ErrUnknownSetting:
		return fmt.Sprintf("tried to match on unknown draft setting %s", e.Setting)
	default:
		return "unknown draft resolve error"
	}
}

// findSetting looks up setting across all groups, mirroring the original's
// groups.values().find_map(...).
func findSetting(groups map[string]map[string]Setting, setting string) (Setting, bool) {
	for _, group := range groups {
		if s, ok := group[setting]; ok {
			return s, true
		}
	}
	return Setting{}, false
}

// Resolve evaluates e against groups and the fixed picks, falling back to
// each setting's declared default when unfixed.
func (e Expr) Resolve(groups map[string]map[string]Setting, picks map[string]string) (interface{}, error) {
	switch e.Kind {
	case ExprBool:
		return e.Bool, nil
	case ExprNumber:
		return e.Number, nil
	case ExprString:
		return e.String, nil
	case ExprArray:
		out := make([]interface{}, len(e.Array))
		for i, v := range e.Array {
			r, err := v.Resolve(groups, picks)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case ExprObject:
		out := make(map[string]interface{}, len(e.Object))
		for k, v := range e.Object {
			r, err := v.Resolve(groups, picks)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case ExprSettingRef:
		setting, ok := findSetting(groups, e.SettingRef)
		if !ok {
			return nil, &ResolveError{Kind: ErrUnknownSetting, Setting: e.SettingRef}
		}
		if v, ok := picks[e.SettingRef]; ok {
			return v, nil
		}
		return setting.Default, nil
	case ExprMatch:
		m := e.Match
		setting, ok := findSetting(groups, m.Setting)
		if !ok {
			return nil, &ResolveError{Kind: ErrUnknownSetting, Setting: m.Setting}
		}
		if m.Fallback == nil {
			if _, ok := m.Arms[setting.Default]; !ok {
				return nil, &ResolveError{Kind: ErrMissingOption, Setting: m.Setting, Option: setting.Default}
			}
			for option := range setting.Other {
				if _, ok := m.Arms[option]; !ok {
					return nil, &ResolveError{Kind: ErrMissingOption, Setting: m.Setting, Option: option}
				}
			}
		}
		for option := range m.Arms {
			if option != setting.Default && !setting.Other[option] {
				return nil, &ResolveError{Kind: ErrUnknownOption, Setting: m.Setting, Option: option}
			}
		}
		key := setting.Default
		if v, ok := picks[m.Setting]; ok {
			key = v
		}
		if arm, ok := m.Arms[key]; ok {
			return arm.Resolve(groups, picks)
		}
		if m.Fallback != nil {
			return m.Fallback.Resolve(groups, picks)
		}
		// Unreachable: exhaustiveness was checked above when Fallback is nil.
		return nil, &ResolveError{Kind: ErrMissingOption, Setting: m.Setting, Option: key}
	default:
		return nil, fmt.Errorf("unknown expr kind %d", e.Kind)
	}
}

type candidateName struct {
	setting string
	value   string
	isDefault bool
}

// CompleteRandomly executes the step schedule in order, picking uniformly
// at random among each step's eligible options (plus a null choice iff the
// step is skippable), then resolves Settings against the result. The
// returned map is only meaningful when the top-level expression evaluates
// to an object — ResolveError{Kind: ErrNonObjectSettings} otherwise, per
// §4.9.
func (s *Spec) CompleteRandomly(rng *rand.Rand) (map[string]interface{}, error) {
	hasPicked := make(map[Team]bool, 2)
	picked := make(map[string]string)

	for _, step := range s.Steps {
		switch step.Kind {
		case StepBan:
			candidates := make([]*candidateName, 0)
			for _, group := range s.Groups {
				for name, setting := range group {
					if _, done := picked[name]; done {
						continue
					}
					candidates = append(candidates, &candidateName{setting: name, value: setting.Default, isDefault: true})
				}
			}
			choice := chooseNullable(rng, candidates, step.Skippable)
			if choice != nil {
				picked[choice.setting] = choice.value
			}
		case StepPick:
			candidates := make([]*candidateName, 0)
			for _, group := range s.Groups {
				for name, setting := range group {
					if _, done := picked[name]; done {
						continue
					}
					for option := range setting.Other {
						candidates = append(candidates, &candidateName{setting: name, value: option, isDefault: false})
					}
					allowDefault := false
					switch step.Defaultable {
					case DefaultableFalse:
						allowDefault = false
					case DefaultableTrue:
						allowDefault = true
					case DefaultableHasPicked:
						allowDefault = hasPicked[step.Team]
					}
					if allowDefault {
						candidates = append(candidates, &candidateName{setting: name, value: setting.Default, isDefault: true})
					}
				}
			}
			choice := chooseNullable(rng, candidates, step.Skippable)
			if choice != nil {
				picked[choice.setting] = choice.value
				if !choice.isDefault {
					hasPicked[step.Team] = true
				}
			}
		}
	}

	resolved, err := s.Settings.Resolve(s.Groups, picked)
	if err != nil {
		return nil, err
	}
	obj, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, &ResolveError{Kind: ErrNonObjectSettings, Value: resolved}
	}
	return obj, nil
}

// chooseNullable picks uniformly at random among candidates, plus a null
// choice iff skippable, mirroring
// `.map(Some).chain(skippable.then_some(None)).choose(&mut rng)`.
func chooseNullable(rng *rand.Rand, candidates []*candidateName, skippable bool) *candidateName {
	n := len(candidates)
	if skippable {
		n++
	}
	if n == 0 {
		return nil
	}
	i := rng.Intn(n)
	if i < len(candidates) {
		return candidates[i]
	}
	return nil
}
