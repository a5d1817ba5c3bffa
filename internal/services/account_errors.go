package services

import (
	"net/http"

	apperrors "github.com/charlesng35/tenantauth/pkg/errors"
)

// Account workflow errors. Each is scoped to the request field that caused it.
var (
	ErrInvalidEmail = apperrors.NewField("INVALID_EMAIL", "email",
		"Email used to obtain verification token is not valid", http.StatusBadRequest)
	ErrAlreadyVerified = apperrors.NewField("ALREADY_VERIFIED", "email",
		"Email used to obtain verification token is already verified", http.StatusBadRequest)
	ErrInvalidToken = apperrors.NewField("INVALID_TOKEN", "token",
		"Token used to email verification is not valid", http.StatusBadRequest)
	ErrExpiredToken = apperrors.NewField("EXPIRED_TOKEN", "token",
		"Token used to email verification has expired", http.StatusBadRequest)
	ErrMissingToken = apperrors.NewField("MISSING_TOKEN", "token",
		"Token is required", http.StatusBadRequest)
	ErrInvalidPassword = apperrors.NewField("INVALID_PASSWORD", "password",
		"Password does not satisfy the length requirements", http.StatusBadRequest)
)
