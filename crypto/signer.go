package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"unicode/utf8"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
)

// Signer encrypts login fields and computes Checker signatures for one
// credential and hostname. It is safe for concurrent use.
type Signer struct {
	cred     *Credential
	hostname string
}

// NewSigner returns a Signer bound to cred. hostname is the scheme-qualified
// host that participates in every checker, e.g. https://www.algolab.com.tr.
func NewSigner(cred *Credential, hostname string) *Signer {
	return &Signer{cred: cred, hostname: hostname}
}

// Credential returns the credential the signer was built with.
func (s *Signer) Credential() *Credential { return s.cred }

// Hostname returns the hostname that is mixed into checkers.
func (s *Signer) Hostname() string { return s.hostname }

// Encrypt encrypts plaintext with AES-CBC under the credential key using an
// all-zero IV and returns standard base64. The same input always yields the
// same ciphertext; the broker requires this.
func (s *Signer) Encrypt(plaintext string) (string, error) {
	var out string
	err := s.cred.withKey(func(key []byte) error {
		ct, err := util.EncryptCBCZeroIV([]byte(plaintext), key)
		if err != nil {
			return err
		}
		out = base64.StdEncoding.EncodeToString(ct)
		return nil
	})
	if err != nil {
		return "", &CryptoError{Op: "encrypt", Kind: KindKey, Err: err}
	}
	return out, nil
}

// Decrypt reverses Encrypt.
func (s *Signer) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Kind: KindInput, Err: err}
	}
	var out []byte
	var inputErr error
	err = s.cred.withKey(func(key []byte) error {
		pt, err := util.DecryptCBCZeroIV(raw, key)
		if errors.Is(err, util.ErrBlockSize) || errors.Is(err, util.ErrPadding) {
			inputErr = err
			return nil
		}
		out = pt
		return err
	})
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Kind: KindKey, Err: err}
	}
	if inputErr != nil {
		return "", &CryptoError{Op: "decrypt", Kind: KindInput, Err: inputErr}
	}
	if !utf8.Valid(out) {
		return "", &CryptoError{Op: "decrypt", Kind: KindInput, Err: errors.New("plaintext is not valid UTF-8")}
	}
	return string(out), nil
}

// Checker returns sha256(bundle + hostname + endpoint + canonical body) as
// 64 lowercase hex characters. endpoint is the request path including the
// /api prefix.
func (s *Signer) Checker(endpoint string, body Body) (string, error) {
	canonical, err := body.Canonical()
	if err != nil {
		return "", &CryptoError{Op: "checker", Kind: KindInput, Err: err}
	}
	bundle := s.cred.Bundle()
	if bundle == "" {
		return "", &CryptoError{Op: "checker", Kind: KindKey, Err: errCredentialDestroyed}
	}
	sum := sha256.Sum256([]byte(bundle + s.hostname + endpoint + canonical))
	return util.HexEncode(sum[:]), nil
}
