package types

import "fmt"

// ValidationError reports bad input (ticker, dates, frequency). It is
// raised before any I/O and is never retried.
type ValidationError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid %s: %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError means a provider credential is missing or unusable.
// It names the credential and where it was expected so the user can fix
// the setup. Under AUTO selection it triggers fallback; with an explicit
// provider it is fatal.
type ConfigurationError struct {
	Credential       string
	ExpectedLocation string
	Err              error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("missing or invalid credential %q (expected at %s)", e.Credential, e.ExpectedLocation)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ProviderError is a provider request failure after internal retries, or
// a rate-limit quota ceiling. StatusCode/Body are zero-valued when the
// failure never reached HTTP.
type ProviderError struct {
	Provider      string
	StatusCode    int
	Body          string
	QuotaExceeded bool
	Err           error
}

func (e *ProviderError) Error() string {
	switch {
	case e.QuotaExceeded:
		return fmt.Sprintf("provider %s: quota exceeded", e.Provider)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: http %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s: request failed", e.Provider)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CacheError wraps a storage failure with the operation that hit it.
// Cache failures are always fatal for the current call; there is no
// degrade-to-API-only mode.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
