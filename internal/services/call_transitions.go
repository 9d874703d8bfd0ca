package services

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgecall/internal/models"
)

var validCallTransitions = map[models.CallStatus][]models.CallStatus{
	models.CallStatusDialing: {
		models.CallStatusInProgress,
		models.CallStatusDeclined,
		models.CallStatusCompleted,
		models.CallStatusFailed,
	},
	models.CallStatusInProgress: {
		models.CallStatusCompleted,
		models.CallStatusMissed,
		models.CallStatusFailed,
	},
}

// transition moves call to status and stamps the matching timestamps.
func transition(call *models.Call, to models.CallStatus, now time.Time) error {
	if !slices.Contains(validCallTransitions[call.Status], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, call.Status, to)
	}

	call.Status = to
	switch {
	case to == models.CallStatusInProgress:
		call.StartedAt = &now
	case to.IsTerminal():
		call.EndedAt = &now
		call.CurrentParticipants = []uuid.UUID{}
	}
	return nil
}

// outcome is the terminal status of an answered call, decided by attendance.
func outcome(call *models.Call) models.CallStatus {
	if len(call.AttendedParticipants) >= 2 {
		return models.CallStatusCompleted
	}
	return models.CallStatusMissed
}

// finishStatus is the status a call reaches when someone ends it outright.
func finishStatus(call *models.Call) models.CallStatus {
	if call.Status == models.CallStatusDialing {
		return models.CallStatusDeclined
	}
	return outcome(call)
}

// settleAfterLeave applies the lifecycle rules after leaver was removed from
// the current participants.
func settleAfterLeave(call *models.Call, leaver uuid.UUID, now time.Time) error {
	switch {
	case call.IsBroadcast:
		if leaver == call.InitiatorID {
			return transition(call, models.CallStatusCompleted, now)
		}
	case call.Status == models.CallStatusInProgress:
		if len(call.CurrentParticipants) <= 1 {
			return transition(call, outcome(call), now)
		}
	case call.Status == models.CallStatusDialing:
		if len(call.CurrentParticipants) == 0 {
			return transition(call, models.CallStatusDeclined, now)
		}
	}
	return nil
}

// admit adds userID and starts the call once a second participant is in.
func admit(call *models.Call, userID uuid.UUID, now time.Time) (bool, error) {
	added := call.AddParticipant(userID)
	if call.Status == models.CallStatusDialing && len(call.CurrentParticipants) >= 2 {
		if err := transition(call, models.CallStatusInProgress, now); err != nil {
			return added, err
		}
		return true, nil
	}
	return added, nil
}
