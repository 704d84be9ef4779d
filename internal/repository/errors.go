package repository

import (
	"errors"
	"fmt"

	"github.com/kursadbilgin/rti-portal/internal/domain"
	"gorm.io/gorm"
)

// wrapDBError maps gorm and driver errors onto the domain taxonomy. Errors
// that already carry a domain class pass through unchanged.
func wrapDBError(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, action)
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %s: %v", domain.ErrConflict, action, err)
	case isDomainError(err):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, action, err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrUnauthorized,
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
