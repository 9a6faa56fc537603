package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("redis unavailable")
	err := WrapError(originalErr, ErrCodeServiceUnavailable, "presence store down", 503)

	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is should see the cause")
	}
	if !strings.Contains(err.Error(), "redis unavailable") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("room_id", "abc-defg-hij").WithContext("count", 4)

	if err.Context["room_id"] != "abc-defg-hij" {
		t.Errorf("Context[room_id] = %v", err.Context["room_id"])
	}
	if err.Context["count"] != 4 {
		t.Errorf("Context[count] = %v, want 4", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("room"), ErrCodeNotFound, http.StatusNotFound},
		{NewForbiddenError("no"), ErrCodeForbidden, http.StatusForbidden},
		{NewCapacityExceededError("full"), ErrCodeCapacityExceeded, http.StatusTooManyRequests},
		{NewFeatureDisabledError("breakout rooms"), ErrCodeFeatureDisabled, http.StatusForbidden},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
	}

	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
		}
		if tc.err.HTTPStatus != tc.status {
			t.Errorf("HTTPStatus = %v, want %v", tc.err.HTTPStatus, tc.status)
		}
	}

	if got := NewNotFoundError("room").Message; got != "room not found" {
		t.Errorf("Message = %q", got)
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if GetAppError(appErr) != appErr {
		t.Error("GetAppError() should return the AppError itself")
	}

	wrapped := fmt.Errorf("handler: %w", appErr)
	if GetAppError(wrapped) != appErr {
		t.Error("GetAppError() should extract AppError from fmt-wrapped error")
	}
	if !IsAppError(wrapped) {
		t.Error("IsAppError() should return true for wrapped AppError")
	}

	if GetAppError(errors.New("regular error")) != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}
