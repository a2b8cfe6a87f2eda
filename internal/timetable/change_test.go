package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func TestChangeValidate(t *testing.T) {
	a := asn("c1", "math", "t-ana", "r1", 0, 1)

	assert.NoError(t, Change{Op: ChangeAdd, Assignment: a}.Validate())
	assert.NoError(t, Change{Op: ChangeRemove, From: &a}.Validate())
	assert.NoError(t, Change{Op: ChangeReplace, Assignment: a, From: &a}.Validate())

	assert.Error(t, Change{Op: ChangeAdd}.Validate())
	assert.Error(t, Change{Op: ChangeRemove}.Validate())
	assert.Error(t, Change{Op: ChangeReplace, Assignment: a}.Validate())
	assert.Error(t, Change{Op: "rename"}.Validate())
}

func TestChangeTouchedKeys(t *testing.T) {
	a := asn("c1", "math", "t-ana", "r1", 0, 1)
	b := asn("c1", "math", "t-cleo", "r2", 1, 2)

	add := Change{Op: ChangeAdd, Assignment: a}
	assert.ElementsMatch(t, []string{"t/t-ana@0:1", "r/r1@0:1", "c/c1@0:1"}, add.TouchedKeys())

	replace := Change{Op: ChangeReplace, Assignment: b, From: &a}
	assert.Len(t, replace.TouchedKeys(), 6)
	assert.Contains(t, replace.TouchedKeys(), "t/t-cleo@1:2")
	assert.Contains(t, replace.TouchedKeys(), "c/c1@0:1")
}

func TestChangeApplyTo(t *testing.T) {
	s := NewSolution()
	a := asn("c1", "math", "t-ana", "r1", 0, 1)
	require.NoError(t, Change{Op: ChangeAdd, Assignment: a}.ApplyTo(s))
	assert.Equal(t, 1, s.Len())

	moved := a
	moved.Slot = TimeSlot{Day: 0, Period: 2}
	require.NoError(t, Change{Op: ChangeReplace, Assignment: moved, From: &a}.ApplyTo(s))
	_, ok := s.At("c1", a.Slot)
	assert.False(t, ok)
	got, ok := s.At("c1", moved.Slot)
	require.True(t, ok)
	assert.Equal(t, moved, got)

	err := Change{Op: ChangeRemove, From: &a}.ApplyTo(s)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestChangeReplaceRollsBackOnFailure(t *testing.T) {
	s := NewSolution()
	a := asn("c1", "math", "t-ana", "r1", 0, 1)
	blocker := asn("c2", "english", "t-ben", "r2", 0, 2)
	require.NoError(t, s.Place(a))
	require.NoError(t, s.Place(blocker))

	// Moving a onto t-ben's busy room key must fail and restore a.
	clash := asn("c1", "math", "t-ana", "r2", 0, 2)
	err := Change{Op: ChangeReplace, Assignment: clash, From: &a}.ApplyTo(s)
	require.Error(t, err)

	restored, ok := s.At("c1", a.Slot)
	require.True(t, ok, "original assignment must be restored after a failed replace")
	assert.Equal(t, a, restored)
	assert.Equal(t, 2, s.Len())
}
