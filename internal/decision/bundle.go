// Package decision implements DecisionBundle (spec §3): the model's
// structured per-perception-cycle output, its tolerant parser, and its
// round-trip serialization.
package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/leochame/lavis/internal/action"
)

// LastActionResult is the outcome of the previous action batch, as reported
// back to the model on the next cycle.
type LastActionResult string

const (
	ResultNone    LastActionResult = "none"
	ResultSuccess LastActionResult = "success"
	ResultPartial LastActionResult = "partial"
	ResultFailure LastActionResult = "failure"
)

// ExecuteNow is the ordered batch of actions the model wants run this cycle.
type ExecuteNow struct {
	Intent  string          `json:"intent"`
	Actions []action.Action `json:"actions"`
}

// Bundle is the model's structured decision for one perception cycle.
type Bundle struct {
	Thought            string            `json:"thought"`
	LastActionResult   LastActionResult  `json:"lastActionResult"`
	ExecuteNow         *ExecuteNow       `json:"executeNow,omitempty"`
	IsGoalComplete     bool              `json:"isGoalComplete"`
	CompletionSummary  string            `json:"completionSummary,omitempty"`
}

// ActionCount returns len(ExecuteNow.Actions), 0 if ExecuteNow is absent.
func (b Bundle) ActionCount() int {
	if b.ExecuteNow == nil {
		return 0
	}
	return len(b.ExecuteNow.Actions)
}

// HasActionsToExecute reports whether the bundle carries actions to run: it
// holds iff !IsGoalComplete and ExecuteNow has at least one action (spec
// §8 testable property).
func (b Bundle) HasActionsToExecute() bool {
	return !b.IsGoalComplete && b.ActionCount() > 0
}

// Validate enforces spec §3's invariant: isGoalComplete ⇒ executeNow is
// empty or absent; and the complementary rule that an incomplete bundle
// must carry at least one action.
func (b Bundle) Validate() error {
	if b.IsGoalComplete && b.ActionCount() > 0 {
		return fmt.Errorf("decision: isGoalComplete=true but executeNow has %d actions", b.ActionCount())
	}
	if !b.IsGoalComplete && b.ActionCount() == 0 {
		return fmt.Errorf("decision: isGoalComplete=false but executeNow is empty")
	}
	return nil
}

// Serialize renders the bundle as canonical JSON.
func (b Bundle) Serialize() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Parse tolerantly extracts a Bundle from a raw model reply: it tolerates
// markdown code fences and leading/trailing prose around the JSON object,
// but still requires a syntactically valid JSON object and passes it
// through Validate.
func Parse(raw string) (Bundle, error) {
	candidate := strings.TrimSpace(raw)

	if m := fencedJSON.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	} else if i := strings.IndexByte(candidate, '{'); i >= 0 {
		if j := strings.LastIndexByte(candidate, '}'); j > i {
			candidate = candidate[i : j+1]
		}
	}

	var b Bundle
	if err := json.Unmarshal([]byte(candidate), &b); err != nil {
		return Bundle{}, fmt.Errorf("decision: malformed bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
