package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/shifu-backend/internal/domain/learn"
)

// MapError classifies storage failures into learn error codes. Errors that already
// carry a code pass through unchanged.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var coded *learn.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return learn.Wrap(learn.CodeNotFound, op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return learn.Wrap(learn.CodeConflict, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return learn.Wrap(learn.CodeUpstream, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return learn.Wrap(learn.CodeConflict, op, err) // unique_violation
		case "40001", "40P01", "55P03":
			return learn.Wrap(learn.CodeConflict, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "already exists"):
		return learn.Wrap(learn.CodeConflict, op, err)
	default:
		return learn.Wrap(learn.CodeInternal, op, err)
	}
}
