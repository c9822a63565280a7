package domain

import "errors"

var (
	ErrNotFound    = errors.New("entry not found")
	ErrExpired     = errors.New("entry expired")
	ErrConflict    = errors.New("entry already decided")
	ErrUnreachable = errors.New("entry service unreachable")
	ErrThrottled   = errors.New("too many lookup attempts")
)
