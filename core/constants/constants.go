package constants

import "time"

const (
	DefaultTimeout = 30 * time.Second

	// Database pool settings
	DatabaseSSLMode         = "disable"
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes

	// JWT scopes
	ScopeTokenAccess  = "access"
	ScopeTokenRefresh = "refresh"

	// Redis key prefixes
	RedisKeyOAuthGrant     = "oauth:grant:"
	RedisKeyTokenBlacklist = "auth:blacklist:"

	// OAuth flow
	OAuthStateTTL       = 10 * time.Minute
	OAuthStateLength    = 32
	PKCEVerifierLength  = 64
	CallbackWaitTimeout = 5 * time.Minute

	// Token refresh happens this long before the recorded expiry so a
	// token is never used at the edge of its lifetime.
	TokenExpirySkew = 5 * time.Minute

	// Sync engine defaults (overridable via config)
	DefaultPushWorkers   = 3
	DefaultMaxRetries    = 3
	DefaultBatchDelay    = 500 * time.Millisecond
	DefaultRetryBaseWait = 1 * time.Second
	DefaultMaxEvents     = 2500
	DefaultPageSize      = 250

	ProviderGoogle = "google"
)
