package database

import (
	"strings"

	"github.com/larder/larder-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no specific mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514":
		return mapCheckConstraint(pqErr)

	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	case "23503":
		return errors.BadRequest("referenced record does not exist")

	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	case "22P02":
		return errors.BadRequest("malformed identifier")

	// lock_not_available, serialization_failure, deadlock_detected
	case "55P03", "40001", "40P01":
		return errors.ConcurrentModification("stock is being modified by another request, retry")

	default:
		return nil
	}
}

// MapError returns the mapped AppError for pq errors and err unchanged otherwise.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.InvalidQuantity("quantity would become negative")

	case strings.Contains(constraint, "thresholds_ordered"):
		return errors.Validation(map[string]string{
			"reorder_level": "must be greater than or equal to minimum_threshold",
		})

	case strings.Contains(constraint, "type_valid"):
		return errors.Validation(map[string]string{
			"type": "must be one of: raw, processed, semi_processed, supplies",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "materials_name_unit"):
		return "a material with this name and unit already exists"
	case strings.Contains(constraint, "branches_name"):
		return "a branch with this name already exists"
	case strings.Contains(constraint, "alerts_open"):
		return "an open alert already exists for this material and branch"
	default:
		return "a record with these values already exists"
	}
}
