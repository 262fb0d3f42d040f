package middleware

import (
	"errors"

	"Calibra/internal/domain/models"
)

func isInvalid(err error) bool { return errors.Is(err, models.ErrInvalidTick) }
