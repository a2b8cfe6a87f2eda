package solver

import (
	"fmt"

	"github.com/noah-isme/sma-timetable-engine/internal/constraint"
	"github.com/noah-isme/sma-timetable-engine/internal/timetable"
)

// moveKind enumerates the neighbourhood operators shared by the
// metaheuristics.
type moveKind int

const (
	moveRelocate  moveKind = iota // move one assignment to a free slot
	moveSwapSlots                 // exchange the slots of two assignments
	moveTeacher                   // hand an assignment to another teacher
	moveRoom                      // move an assignment to another room
	moveKinds
)

// moveAttr is the reversible attribute recorded in the tabu list.
type moveAttr struct {
	kind moveKind
	a    string // assignment key before the move
	b    string // counterpart key or target descriptor
}

func (m moveAttr) String() string {
	return fmt.Sprintf("%d|%s|%s", m.kind, m.a, m.b)
}

// reverse is the attribute that would undo this move; forbidding it is
// what the tabu list actually stores.
func (m moveAttr) reverse() moveAttr {
	return moveAttr{kind: m.kind, a: m.b, b: m.a}
}

// neighbor derives one random legal neighbour of s, or ok=false when the
// sampled move cannot be made legal. Candidates that fail the hard probe
// are rejected, never penalised, so neighbours are always at least as
// hard-feasible as the input.
func neighbor(ctx *Context, engine *constraint.Engine, s *timetable.Solution) (*timetable.Solution, moveAttr, bool) {
	assignments := s.Assignments()
	if len(assignments) == 0 {
		return nil, moveAttr{}, false
	}
	rng := ctx.Rand()
	kind := moveKind(rng.Intn(int(moveKinds)))
	a := assignments[rng.Intn(len(assignments))]

	switch kind {
	case moveRelocate:
		slots := engine.Problem().Slots()
		offset := rng.Intn(len(slots))
		for i := range slots {
			target := slots[(offset+i)%len(slots)]
			if target == a.Slot {
				continue
			}
			candidate := s.Clone()
			candidate.Remove(a.ClassID, a.Slot)
			moved := a
			moved.Slot = target
			if !engine.Probe(candidate, moved) {
				continue
			}
			if err := candidate.Place(moved); err != nil {
				continue
			}
			return candidate, moveAttr{kind: kind, a: a.Key(), b: moved.Key()}, true
		}

	case moveSwapSlots:
		b := assignments[rng.Intn(len(assignments))]
		if a == b {
			return nil, moveAttr{}, false
		}
		candidate := s.Clone()
		candidate.Remove(a.ClassID, a.Slot)
		candidate.Remove(b.ClassID, b.Slot)
		movedA, movedB := a, b
		movedA.Slot, movedB.Slot = b.Slot, a.Slot
		if !engine.Probe(candidate, movedA) {
			return nil, moveAttr{}, false
		}
		if err := candidate.Place(movedA); err != nil {
			return nil, moveAttr{}, false
		}
		if !engine.Probe(candidate, movedB) {
			return nil, moveAttr{}, false
		}
		if err := candidate.Place(movedB); err != nil {
			return nil, moveAttr{}, false
		}
		return candidate, moveAttr{kind: kind, a: a.Key(), b: b.Key()}, true

	case moveTeacher:
		teachers := engine.Problem().QualifiedTeachers(a.SubjectID)
		if len(teachers) < 2 {
			return nil, moveAttr{}, false
		}
		offset := rng.Intn(len(teachers))
		for i := range teachers {
			t := teachers[(offset+i)%len(teachers)]
			if t.ID == a.TeacherID {
				continue
			}
			candidate := s.Clone()
			candidate.Remove(a.ClassID, a.Slot)
			moved := a
			moved.TeacherID = t.ID
			if !engine.Probe(candidate, moved) {
				continue
			}
			if err := candidate.Place(moved); err != nil {
				continue
			}
			return candidate, moveAttr{kind: kind, a: a.Key(), b: moved.Key()}, true
		}

	case moveRoom:
		subject, _ := engine.Problem().SubjectByID(a.SubjectID)
		rooms := engine.Problem().CandidateRooms(subject)
		if len(rooms) < 2 {
			return nil, moveAttr{}, false
		}
		offset := rng.Intn(len(rooms))
		for i := range rooms {
			r := rooms[(offset+i)%len(rooms)]
			if r.ID == a.RoomID {
				continue
			}
			candidate := s.Clone()
			candidate.Remove(a.ClassID, a.Slot)
			moved := a
			moved.RoomID = r.ID
			if !engine.Probe(candidate, moved) {
				continue
			}
			if err := candidate.Place(moved); err != nil {
				continue
			}
			return candidate, moveAttr{kind: kind, a: a.Key(), b: moved.Key()}, true
		}
	}

	return nil, moveAttr{}, false
}
