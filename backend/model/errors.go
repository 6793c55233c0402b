package model

import "errors"

var (
	ErrMeetingNotFound = errors.New("meeting is not found")
	ErrUserNotFound    = errors.New("user is not found")
	ErrNotAMember      = errors.New("user is not a member of this meeting")
	ErrSelfPair        = errors.New("user cannot pair with itself")
	ErrPairUndecided   = errors.New("offer/answer roles are not decided for this pair")
)
