package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
)

// notFound maps pgx.ErrNoRows to models.ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
