package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("mailbox account not found")
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
	ErrInvalidInput        = errors.New("invalid input")

	ErrOAuthNotConfigured  = errors.New("google oauth client is not configured")
	ErrStateMismatch       = errors.New("oauth state does not match the current user")
	ErrMissingAuthCode     = errors.New("authorization code is required")
	ErrMissingAccessToken  = errors.New("provider did not return an access token")
	ErrMissingRefreshToken = errors.New("provider did not return a refresh token")
	ErrReauthRequired      = errors.New("mailbox requires re-authorization")

	ErrConnectionFailed = errors.New("mailbox connection check failed")
	ErrSyncInProgress   = errors.New("a sync is already running for this mailbox")
	ErrSyncFailed       = errors.New("mailbox sync failed")
	ErrSendFailed       = errors.New("sending email failed")
)

// AuthError wraps a provider failure caused by missing, rejected or
// undecryptable credentials.
type AuthError struct {
	Provider Provider
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err needs the user to reconnect the mailbox.
func IsAuthError(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	return errors.Is(err, ErrReauthRequired) || errors.Is(err, ErrMissingRefreshToken)
}
