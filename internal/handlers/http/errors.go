package http

import (
	"errors"
	"net/http"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/circuitbreaker"
	apperrors "meetsignal/pkg/errors"
)

// toAppError maps domain failures onto API errors. Unknown errors become a
// 500 that keeps the cause for logging only.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return apperrors.NewNotFoundError("room")
	case errors.Is(err, domain.ErrBreakoutNotFound):
		return apperrors.NewNotFoundError("breakout")
	case errors.Is(err, domain.ErrNoPendingRequest):
		return apperrors.NewNotFoundError("pending join request")
	case errors.Is(err, domain.ErrNotModerator):
		return apperrors.NewForbiddenError(domain.ErrNotModerator.Error())
	case errors.Is(err, domain.ErrAccessDenied):
		return apperrors.NewForbiddenError(domain.ErrAccessDenied.Error())
	case errors.Is(err, domain.ErrBreakoutNotAssigned):
		return apperrors.NewForbiddenError(domain.ErrBreakoutNotAssigned.Error())
	case errors.Is(err, domain.ErrFeatureNotEnabled):
		feature := "this feature"
		var fe *domain.FeatureError
		if errors.As(err, &fe) && fe.Feature != "" {
			feature = fe.Feature
		}
		return apperrors.NewFeatureDisabledError(feature)
	case errors.Is(err, domain.ErrCapacityExceeded):
		return apperrors.NewCapacityExceededError(domain.ErrCapacityExceeded.Error())
	case errors.Is(err, domain.ErrTooManyBreakouts):
		return apperrors.NewConflictError(domain.ErrTooManyBreakouts.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return apperrors.NewRateLimitError()
	case errors.Is(err, circuitbreaker.ErrOpen):
		return apperrors.NewServiceUnavailableError("room directory unavailable")
	case errors.Is(err, domain.ErrInvalidEvent):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
