package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"talentmail/internal/recipients"
	"talentmail/internal/repository"
	"talentmail/internal/transport"
)

var (
	// ErrInvalidUsage is a caller mistake; nothing was created
	ErrInvalidUsage = errors.New("invalid usage")
	ErrNotFound     = errors.New("not found")
	// ErrUnknownMessage means the mail provider referenced a message this
	// system never sent
	ErrUnknownMessage = errors.New("bounce references unknown message")
)

func usageErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidUsage, fmt.Sprintf(format, args...))
}

// notFound converts gorm's missing-row error into ErrNotFound
func notFound(what, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

// IsPermanent reports errors that a retry cannot fix
func IsPermanent(err error) bool {
	for _, target := range []error{
		ErrInvalidUsage,
		ErrNotFound,
		ErrUnknownMessage,
		repository.ErrDuplicate,
		transport.ErrUnknownTransport,
		transport.ErrInvalidCredentials,
		transport.ErrWrongDirection,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsUsage reports errors the API should answer with 400
func IsUsage(err error) bool {
	return errors.Is(err, ErrInvalidUsage) ||
		errors.Is(err, repository.ErrDuplicate) ||
		errors.Is(err, transport.ErrUnknownTransport) ||
		errors.Is(err, transport.ErrInvalidCredentials) ||
		errors.Is(err, transport.ErrWrongDirection)
}

// IsUnavailable reports failures of a collaborating service
func IsUnavailable(err error) bool {
	return errors.Is(err, transport.ErrTransportUnavailable) || errors.Is(err, recipients.ErrListService)
}
