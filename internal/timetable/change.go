package timetable

import (
	"fmt"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// ChangeOp enumerates the single-assignment edits the live validator
// understands.
type ChangeOp string

const (
	ChangeAdd     ChangeOp = "add"
	ChangeRemove  ChangeOp = "remove"
	ChangeReplace ChangeOp = "replace"
)

// Change describes one edit against a committed solution. For Remove and
// Replace, From identifies the assignment being displaced; for Add and
// Replace, Assignment is the incoming one.
type Change struct {
	Op         ChangeOp    `json:"op"`
	Assignment Assignment  `json:"assignment"`
	From       *Assignment `json:"from,omitempty"`
}

// Key is the canonical cache key for the change.
func (c Change) Key() string {
	from := "-"
	if c.From != nil {
		from = c.From.Key()
	}
	return fmt.Sprintf("%s|%s|%s", c.Op, c.Assignment.Key(), from)
}

// TouchedKeys lists every (resource, slot) key the change can affect.
// The validator's cache invalidation and the delta evaluator both scope
// their work to these keys.
func (c Change) TouchedKeys() []string {
	keys := make([]string, 0, 6)
	add := func(a Assignment) {
		keys = append(keys,
			"t/"+a.TeacherID+"@"+a.Slot.Key(),
			"r/"+a.RoomID+"@"+a.Slot.Key(),
			"c/"+a.ClassID+"@"+a.Slot.Key(),
		)
	}
	switch c.Op {
	case ChangeAdd:
		add(c.Assignment)
	case ChangeRemove:
		if c.From != nil {
			add(*c.From)
		}
	case ChangeReplace:
		if c.From != nil {
			add(*c.From)
		}
		add(c.Assignment)
	}
	return keys
}

// Validate checks structural preconditions before any constraint work.
func (c Change) Validate() error {
	switch c.Op {
	case ChangeAdd:
		if c.Assignment.ClassID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "add change requires an assignment")
		}
	case ChangeRemove:
		if c.From == nil {
			return appErrors.Clone(appErrors.ErrValidation, "remove change requires the assignment being removed")
		}
	case ChangeReplace:
		if c.From == nil || c.Assignment.ClassID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "replace change requires both sides")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown change op %q", c.Op))
	}
	return nil
}

// ApplyTo mutates the solution in place. On Replace failure the removed
// assignment is restored so the solution is never left half-edited.
func (c Change) ApplyTo(s *Solution) error {
	switch c.Op {
	case ChangeAdd:
		return s.Place(c.Assignment)
	case ChangeRemove:
		if _, ok := s.Remove(c.From.ClassID, c.From.Slot); !ok {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment to remove not found")
		}
		return nil
	case ChangeReplace:
		removed, ok := s.Remove(c.From.ClassID, c.From.Slot)
		if !ok {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment to replace not found")
		}
		if err := s.Place(c.Assignment); err != nil {
			_ = s.Place(removed)
			return err
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown change op %q", c.Op))
}
