package vaultguard

import "errors"

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyAttempts is an exported constant or variable used by the authentication engine.
	ErrTooManyAttempts = errors.New("too many failed attempts")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid is an exported constant or variable used by the authentication engine.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is an exported constant or variable used by the authentication engine.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is an exported constant or variable used by the authentication engine.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvitationGone is an exported constant or variable used by the authentication engine.
	ErrInvitationGone = errors.New("invitation expired or already used")
	// ErrMFARequired is an exported constant or variable used by the authentication engine.
	ErrMFARequired = errors.New("mfa verification required")
	// ErrMFAChallengeInvalid is an exported constant or variable used by the authentication engine.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrMFACodeInvalid is an exported constant or variable used by the authentication engine.
	ErrMFACodeInvalid = errors.New("invalid mfa code")
	// ErrMFANotEnrolled is an exported constant or variable used by the authentication engine.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrMFANotConfirmed is an exported constant or variable used by the authentication engine.
	ErrMFANotConfirmed = errors.New("mfa enrollment not confirmed")
	// ErrMFAAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrPermissionDenied is an exported constant or variable used by the authentication engine.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRoleInvalid is an exported constant or variable used by the authentication engine.
	ErrRoleInvalid = errors.New("invalid role")
	// ErrStatusInvalid is an exported constant or variable used by the authentication engine.
	ErrStatusInvalid = errors.New("invalid account status")
	// ErrValidation is an exported constant or variable used by the authentication engine.
	ErrValidation = errors.New("invalid request")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable is an exported constant or variable used by the authentication engine.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
)
