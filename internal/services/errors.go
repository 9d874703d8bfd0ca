package services

import "errors"

var (
	ErrNotMember          = errors.New("user is not a member of this chat")
	ErrForbidden          = errors.New("action not permitted for this user")
	ErrCallNotActive      = errors.New("no active call for this chat")
	ErrCallAlreadyActive  = errors.New("chat already has an active call")
	ErrInvalidTransition  = errors.New("invalid call transition")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrCallContention     = errors.New("call was modified concurrently, retries exhausted")
	ErrInvalidToken       = errors.New("invalid token")
)
