package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCall_AddParticipant_Idempotent(t *testing.T) {
	call := &Call{}
	a := uuid.New()

	assert.True(t, call.AddParticipant(a))
	assert.False(t, call.AddParticipant(a), "second admission is a no-op")

	assert.Equal(t, []uuid.UUID{a}, call.CurrentParticipants)
	assert.Equal(t, []uuid.UUID{a}, call.AttendedParticipants)
	assert.Equal(t, 1, call.MaxParticipants)
}

func TestCall_MaxParticipantsNeverDecreases(t *testing.T) {
	call := &Call{}
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	seen := 0
	steps := []func(){
		func() { call.AddParticipant(a) },
		func() { call.AddParticipant(b) },
		func() { call.RemoveParticipant(a) },
		func() { call.AddParticipant(c) },
		func() { call.RemoveParticipant(b) },
		func() { call.RemoveParticipant(c) },
		func() { call.AddParticipant(a) },
	}
	for _, step := range steps {
		step()
		assert.GreaterOrEqual(t, call.MaxParticipants, seen)
		seen = call.MaxParticipants
	}

	assert.Equal(t, 2, call.MaxParticipants)
	assert.Len(t, call.AttendedParticipants, 3)
	assert.Equal(t, []uuid.UUID{a}, call.CurrentParticipants)
}

func TestCall_RemoveParticipant_Unknown(t *testing.T) {
	call := &Call{}
	assert.False(t, call.RemoveParticipant(uuid.New()))
}

func TestCall_CloneIsIndependent(t *testing.T) {
	call := &Call{}
	call.AddParticipant(uuid.New())

	cp := call.Clone()
	cp.AddParticipant(uuid.New())

	assert.Len(t, call.CurrentParticipants, 1)
	assert.Len(t, cp.CurrentParticipants, 2)
}

func TestCallStatus_IsTerminal(t *testing.T) {
	assert.False(t, CallStatusDialing.IsTerminal())
	assert.False(t, CallStatusInProgress.IsTerminal())
	for _, s := range []CallStatus{CallStatusCompleted, CallStatusMissed, CallStatusFailed, CallStatusDeclined} {
		assert.True(t, s.IsTerminal(), s)
	}
}
