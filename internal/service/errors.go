package service

import (
	"errors"
	"fmt"

	"github.com/dmchat/internal/storage"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("not a participant")
	ErrForbidden     = errors.New("not the author")
	ErrInvalidState  = errors.New("message is deleted")
	ErrEmptyMessage  = errors.New("message has neither text nor media")
	ErrInvalidTarget = errors.New("invalid target")
	ErrConflict      = errors.New("conflict")
)

// wrap translates storage sentinels into service ones and prefixes op.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
