package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgErrorToServiceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		if pgErr.ConstraintName == "relationships_unique_grant" {
			return newServiceError(http.StatusConflict, "RELATIONSHIP_EXISTS", "relationship already granted", err)
		}
		return newServiceError(http.StatusConflict, "CONFLICT", "unique constraint violated", err)
	case "23503": // foreign_key_violation
		switch pgErr.ConstraintName {
		case "requests_superseded_by_fkey":
			return newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "superseding request does not exist", err)
		case "actions_request_id_fkey", "reviews_request_id_fkey":
			return newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "request does not exist", err)
		default:
			return newServiceError(http.StatusUnprocessableEntity, "INVALID_REFERENCE", "foreign key violation", err)
		}
	case "23514": // check_violation
		return newServiceError(http.StatusUnprocessableEntity, "INVALID_STATE", "check constraint violated", err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return newServiceError(http.StatusConflict, "CONFLICT", "concurrent update, retry", err)
	default:
		return newServiceError(http.StatusInternalServerError, "INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
