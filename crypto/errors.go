package crypto

import "fmt"

// ConfigError reports a malformed credential bundle or signer configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid credential: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a CryptoError.
type ErrorKind int

const (
	// KindInput means the data handed to the operation was malformed.
	KindInput ErrorKind = iota + 1
	// KindKey means the key material could not be used.
	KindKey
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindKey:
		return "key"
	default:
		return "unknown"
	}
}

// CryptoError is returned by Encrypt, Decrypt and Checker.
type CryptoError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }
