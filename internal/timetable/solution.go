package timetable

import (
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// Assignment is the atomic scheduling unit: one class meets one subject
// with one teacher in one room at one slot.
type Assignment struct {
	ClassID   string   `json:"classId"`
	SubjectID string   `json:"subjectId"`
	TeacherID string   `json:"teacherId"`
	RoomID    string   `json:"roomId"`
	Slot      TimeSlot `json:"slot"`
}

// Key is the canonical string form of the assignment.
func (a Assignment) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", a.ClassID, a.SubjectID, a.TeacherID, a.RoomID, a.Slot.Key())
}

// Unit is one unplaced period demand: the nth weekly occurrence of a
// subject for a class.
type Unit struct {
	ClassID   string `json:"classId"`
	SubjectID string `json:"subjectId"`
	Ordinal   int    `json:"ordinal"`
}

type classSubject struct {
	class   string
	subject string
}

// Solution is a week's worth of assignments plus the units that could not
// be placed. The three slot indexes enforce the mutual-exclusion invariant
// structurally: a (resource, slot) key can hold at most one assignment.
type Solution struct {
	byClass   map[string]map[TimeSlot]Assignment
	byTeacher map[string]map[TimeSlot]Assignment
	byRoom    map[string]map[TimeSlot]Assignment
	counts    map[classSubject]int
	unplaced  []Unit
	size      int
}

// NewSolution returns an empty solution.
func NewSolution() *Solution {
	return &Solution{
		byClass:   make(map[string]map[TimeSlot]Assignment),
		byTeacher: make(map[string]map[TimeSlot]Assignment),
		byRoom:    make(map[string]map[TimeSlot]Assignment),
		counts:    make(map[classSubject]int),
	}
}

// Clone deep-copies the solution. Optimizers mutate clones, never their
// input.
func (s *Solution) Clone() *Solution {
	c := &Solution{
		byClass:   cloneIndex(s.byClass),
		byTeacher: cloneIndex(s.byTeacher),
		byRoom:    cloneIndex(s.byRoom),
		counts:    make(map[classSubject]int, len(s.counts)),
		unplaced:  append([]Unit(nil), s.unplaced...),
		size:      s.size,
	}
	for k, v := range s.counts {
		c.counts[k] = v
	}
	return c
}

func cloneIndex(idx map[string]map[TimeSlot]Assignment) map[string]map[TimeSlot]Assignment {
	out := make(map[string]map[TimeSlot]Assignment, len(idx))
	for id, row := range idx {
		copied := make(map[TimeSlot]Assignment, len(row))
		for slot, a := range row {
			copied[slot] = a
		}
		out[id] = copied
	}
	return out
}

// Place inserts an assignment, failing if any of the three resource-slot
// keys is already taken.
func (s *Solution) Place(a Assignment) error {
	if _, taken := s.byClass[a.ClassID][a.Slot]; taken {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("class %s already busy at %s", a.ClassID, a.Slot.Key()))
	}
	if _, taken := s.byTeacher[a.TeacherID][a.Slot]; taken {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("teacher %s already busy at %s", a.TeacherID, a.Slot.Key()))
	}
	if _, taken := s.byRoom[a.RoomID][a.Slot]; taken {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("room %s already booked at %s", a.RoomID, a.Slot.Key()))
	}
	setIndex(s.byClass, a.ClassID, a)
	setIndex(s.byTeacher, a.TeacherID, a)
	setIndex(s.byRoom, a.RoomID, a)
	s.counts[classSubject{a.ClassID, a.SubjectID}]++
	s.size++
	return nil
}

func setIndex(idx map[string]map[TimeSlot]Assignment, id string, a Assignment) {
	row, ok := idx[id]
	if !ok {
		row = make(map[TimeSlot]Assignment)
		idx[id] = row
	}
	row[a.Slot] = a
}

// Remove deletes the assignment occupying (classID, slot), if any.
func (s *Solution) Remove(classID string, slot TimeSlot) (Assignment, bool) {
	a, ok := s.byClass[classID][slot]
	if !ok {
		return Assignment{}, false
	}
	delete(s.byClass[classID], slot)
	delete(s.byTeacher[a.TeacherID], slot)
	delete(s.byRoom[a.RoomID], slot)
	key := classSubject{a.ClassID, a.SubjectID}
	if s.counts[key] > 0 {
		s.counts[key]--
	}
	s.size--
	return a, true
}

// At returns the assignment for a class at a slot.
func (s *Solution) At(classID string, slot TimeSlot) (Assignment, bool) {
	a, ok := s.byClass[classID][slot]
	return a, ok
}

// TeacherAt returns the assignment keeping a teacher busy at a slot.
func (s *Solution) TeacherAt(teacherID string, slot TimeSlot) (Assignment, bool) {
	a, ok := s.byTeacher[teacherID][slot]
	return a, ok
}

// RoomAt returns the assignment occupying a room at a slot.
func (s *Solution) RoomAt(roomID string, slot TimeSlot) (Assignment, bool) {
	a, ok := s.byRoom[roomID][slot]
	return a, ok
}

// Assignments returns the ordered assignment list (class, then slot).
func (s *Solution) Assignments() []Assignment {
	out := make([]Assignment, 0, s.size)
	for _, row := range s.byClass {
		for _, a := range row {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassID != out[j].ClassID {
			return out[i].ClassID < out[j].ClassID
		}
		return out[i].Slot.Before(out[j].Slot)
	})
	return out
}

// Len is the number of placed assignments.
func (s *Solution) Len() int { return s.size }

// CountFor returns how many periods of a subject a class currently has.
func (s *Solution) CountFor(classID, subjectID string) int {
	return s.counts[classSubject{classID, subjectID}]
}

// TeacherLoad is a teacher's weekly period count.
func (s *Solution) TeacherLoad(teacherID string) int {
	return len(s.byTeacher[teacherID])
}

// TeacherSlots returns a teacher's occupied slots in chronological order.
func (s *Solution) TeacherSlots(teacherID string) []TimeSlot {
	return sortedSlots(s.byTeacher[teacherID])
}

// ClassSlots returns a class's occupied slots in chronological order.
func (s *Solution) ClassSlots(classID string) []TimeSlot {
	return sortedSlots(s.byClass[classID])
}

func sortedSlots(row map[TimeSlot]Assignment) []TimeSlot {
	slots := make([]TimeSlot, 0, len(row))
	for slot := range row {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

// TeacherIDs lists teachers with at least one assignment, sorted.
func (s *Solution) TeacherIDs() []string {
	ids := make([]string, 0, len(s.byTeacher))
	for id, row := range s.byTeacher {
		if len(row) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ClassIDs lists classes with at least one assignment, sorted.
func (s *Solution) ClassIDs() []string {
	ids := make([]string, 0, len(s.byClass))
	for id, row := range s.byClass {
		if len(row) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarkUnplaced records a unit no legal slot remained for.
func (s *Solution) MarkUnplaced(u Unit) {
	s.unplaced = append(s.unplaced, u)
}

// Unplaced returns the units that could not be assigned.
func (s *Solution) Unplaced() []Unit {
	return append([]Unit(nil), s.unplaced...)
}

// ClearUnplaced resets the unplaced list (used when re-seeding).
func (s *Solution) ClearUnplaced() { s.unplaced = nil }

// Hamming counts class-slot cells where two solutions disagree. Used by
// the genetic optimizer as its population diversity measure.
func (s *Solution) Hamming(o *Solution) int {
	distance := 0
	seen := make(map[string]map[TimeSlot]bool)
	for classID, row := range s.byClass {
		seen[classID] = make(map[TimeSlot]bool, len(row))
		for slot, a := range row {
			seen[classID][slot] = true
			other, ok := o.byClass[classID][slot]
			if !ok || other != a {
				distance++
			}
		}
	}
	for classID, row := range o.byClass {
		for slot := range row {
			if !seen[classID][slot] {
				distance++
			}
		}
	}
	return distance
}
