package draft_test

import (
	"math/rand"
	"testing"

	"github.com/jihwankim/rollstats/internal/draft"
)

func bridgeSpec() *draft.Spec {
	return &draft.Spec{
		Groups: map[string]map[string]draft.Setting{
			"dungeons": {
				"bridge": draft.Setting{
					Default: "6meds",
					Other: map[string]bool{
						"4meds": true,
						"5meds": true,
					},
				},
			},
		},
		Settings: draft.Expr{
			Kind: draft.ExprMatch,
			Match: &draft.MatchExpr{
				Setting: "bridge",
				Arms: map[string]draft.Expr{
					"4meds": {Kind: draft.ExprNumber, Number: 4},
					"5meds": {Kind: draft.ExprNumber, Number: 5},
					"6meds": {Kind: draft.ExprNumber, Number: 6},
				},
			},
		},
	}
}

// wrapObject wraps expr under a single top-level key so CompleteRandomly
// sees an object, as §4.9 requires of the top-level result.
func wrapObject(key string, expr draft.Expr) draft.Expr {
	return draft.Expr{Kind: draft.ExprObject, Object: map[string]draft.Expr{key: expr}}
}

// TestS6DraftResolve is the spec's S6 end-to-end scenario: default picks
// resolve bridge to 6, an explicit pick resolves to 4.
func TestS6DraftResolve(t *testing.T) {
	spec := bridgeSpec()
	spec.Settings = wrapObject("bridge", spec.Settings)

	got, err := spec.Settings.Resolve(spec.Groups, map[string]string{})
	if err != nil {
		t.Fatalf("Resolve (defaults): %v", err)
	}
	if obj, ok := got.(map[string]interface{}); !ok || obj["bridge"] != float64(6) {
		t.Fatalf("Resolve (defaults) = %v, want {bridge: 6}", got)
	}

	got, err = spec.Settings.Resolve(spec.Groups, map[string]string{"bridge": "4meds"})
	if err != nil {
		t.Fatalf("Resolve (4meds): %v", err)
	}
	if obj, ok := got.(map[string]interface{}); !ok || obj["bridge"] != float64(4) {
		t.Fatalf("Resolve (4meds) = %v, want {bridge: 4}", got)
	}
}

// TestMatchExhaustiveness is property 6: a Match omitting an arm for a
// reachable option, with no fallback, yields ErrMissingOption.
func TestMatchExhaustiveness(t *testing.T) {
	spec := bridgeSpec()
	delete(spec.Settings.Match.Arms, "5meds")
	spec.Settings = wrapObject("bridge", spec.Settings)

	_, err := spec.Settings.Resolve(spec.Groups, map[string]string{})
	re, ok := err.(*draft.ResolveError)
	if !ok || re.Kind != draft.ErrMissingOption {
		t.Fatalf("err = %v, want ErrMissingOption", err)
	}
}

// TestCompleteRandomlyProducesDeclaredOptions is property 5: for any spec,
// CompleteRandomly produces a result in which every setting referenced by
// the expression tree resolves to one of that setting's declared options.
func TestCompleteRandomlyProducesDeclaredOptions(t *testing.T) {
	spec := &draft.Spec{
		Groups: map[string]map[string]draft.Setting{
			"group": {
				"dungeon_shuffle": draft.Setting{
					Default: "off",
					Other:   map[string]bool{"on": true, "limited": true},
				},
			},
		},
		Steps: []draft.Step{
			{Team: draft.TeamA, Kind: draft.StepPick, Skippable: false, Defaultable: draft.DefaultableTrue},
		},
		Settings: wrapObject("dungeon_shuffle", draft.Expr{Kind: draft.ExprSettingRef, SettingRef: "dungeon_shuffle"}),
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		result, err := spec.CompleteRandomly(rng)
		if err != nil {
			t.Fatalf("CompleteRandomly: %v", err)
		}
		v, ok := result["dungeon_shuffle"].(string)
		if !ok {
			t.Fatalf("result[dungeon_shuffle] = %v, not a string", result["dungeon_shuffle"])
		}
		if v != "off" && v != "on" && v != "limited" {
			t.Fatalf("result[dungeon_shuffle] = %q, not a declared option", v)
		}
	}
}

func TestCompleteRandomlyRejectsNonObjectTopLevel(t *testing.T) {
	spec := bridgeSpec() // top-level is a bare Match, not an Object
	rng := rand.New(rand.NewSource(1))
	_, err := spec.CompleteRandomly(rng)
	re, ok := err.(*draft.ResolveError)
	if !ok || re.Kind != draft.ErrNonObjectSettings {
		t.Fatalf("err = %v, want ErrNonObjectSettings", err)
	}
}
