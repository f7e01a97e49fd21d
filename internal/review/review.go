// Package review models the human correction pass over an extraction result:
// confidence tiers driving the field UI, the per-field edit state machine,
// and the correction-set diff persisted as an audit trail.
package review

import (
	"fmt"
	"reflect"

	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/model"
)

// Tier classifies a field's confidence for the review UI.
type Tier string

const (
	// TierHigh: trusted, rendered without a flag.
	TierHigh Tier = "high"
	// TierMedium: review suggested.
	TierMedium Tier = "medium"
	// TierLow: review required before a silent save.
	TierLow Tier = "low"
)

// TierFor maps a confidence score to its review tier.
func TierFor(confidence int) Tier {
	switch {
	case confidence >= extract.ReviewThreshold:
		return TierHigh
	case confidence >= extract.FieldThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// LowTierFields lists fields in the low tier, in canonical order. A non-empty
// result flags the save; the UI may still let the user override.
func LowTierFields(fm model.FieldMap) []string {
	var out []string
	for _, name := range model.FieldNames() {
		if TierFor(fm[name].Confidence) == TierLow {
			out = append(out, name)
		}
	}
	return out
}

// Diff computes the correction set: every field whose edited value differs
// from the original extracted value. Unchanged fields are omitted.
func Diff(original, edited model.FieldMap) model.CorrectionSet {
	cs := model.CorrectionSet{}
	for _, name := range model.FieldNames() {
		origVal := original[name].Value
		editVal := edited[name].Value
		if !valuesEqual(origVal, editVal) {
			cs[name] = editVal
		}
	}
	return cs
}

// Apply lays a correction set over the original map, reproducing the edited
// map. Diff-then-apply is lossless: Apply(original, Diff(original, edited))
// equals edited. Originals are not mutated; corrected fields keep their
// original confidence since confidence describes the extraction, not the
// edit.
func Apply(original model.FieldMap, cs model.CorrectionSet) model.FieldMap {
	out := original.Clone()
	for name, val := range cs {
		f := out[name]
		f.Value = val
		out[name] = f
	}
	return out
}

// valuesEqual compares extracted values across the loose typing JSON
// round-trips introduce (int64 vs float64 for numbers).
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, aok := asFloat(a); aok {
		if nb, bok := asFloat(b); bok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// FieldState is the edit state of one field during review. Each field is
// independently display or editing; there is no whole-form mode.
type FieldState int

const (
	StateDisplay FieldState = iota
	StateEditing
)

// Session tracks per-field edit state and accumulated edits over one
// extraction result. The original field map is retained untouched for
// diffing at save time.
type Session struct {
	original model.FieldMap
	edited   model.FieldMap
	states   map[string]FieldState
}

// NewSession starts a review session over an extraction result.
func NewSession(result *model.ExtractionResult) *Session {
	original := result.FieldMap.Complete()
	return &Session{
		original: original,
		edited:   original.Clone(),
		states:   make(map[string]FieldState),
	}
}

// State returns the current edit state of a field.
func (s *Session) State(field string) FieldState {
	return s.states[field]
}

// Begin transitions a field from display to editing.
func (s *Session) Begin(field string) error {
	if err := s.checkField(field); err != nil {
		return err
	}
	if s.states[field] == StateEditing {
		return fmt.Errorf("review: field %s already editing", field)
	}
	s.states[field] = StateEditing
	return nil
}

// Save commits a new value for an editing field and returns it to display.
func (s *Session) Save(field string, value any) error {
	if err := s.checkField(field); err != nil {
		return err
	}
	if s.states[field] != StateEditing {
		return fmt.Errorf("review: field %s not editing", field)
	}
	f := s.edited[field]
	f.Value = value
	s.edited[field] = f
	s.states[field] = StateDisplay
	return nil
}

// Cancel abandons an in-progress edit, returning the field to display with
// its previous value.
func (s *Session) Cancel(field string) error {
	if err := s.checkField(field); err != nil {
		return err
	}
	if s.states[field] != StateEditing {
		return fmt.Errorf("review: field %s not editing", field)
	}
	s.states[field] = StateDisplay
	return nil
}

// Edited returns the current user-edited field map.
func (s *Session) Edited() model.FieldMap {
	return s.edited.Clone()
}

// Confirm finalizes the session: the correction set diffed against the
// original extraction, plus the final field map to persist.
func (s *Session) Confirm() (model.CorrectionSet, model.FieldMap) {
	return Diff(s.original, s.edited), s.edited.Clone()
}

func (s *Session) checkField(field string) error {
	if _, ok := s.original[field]; !ok {
		return fmt.Errorf("review: unknown field %s", field)
	}
	return nil
}
