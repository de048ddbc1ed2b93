package room

import "errors"

var (
	ErrRecordNotFound      = errors.New("playback record not found")
	ErrNotController       = errors.New("sender is not the controller")
	ErrFileMismatch        = errors.New("file identity does not match the record")
	ErrParticipantNotFound = errors.New("participant not found")
)
