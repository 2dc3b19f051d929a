package auth

import "errors"

// Authentication errors map onto gRPC codes:
// UNAUTHENTICATED for missing/invalid (doesn't confirm key existence),
// PERMISSION_DENIED for revoked, UNAVAILABLE when the key store fails.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key metadata")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrUnavailable      = errors.New("key store unavailable")
)
