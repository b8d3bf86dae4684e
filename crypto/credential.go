package crypto

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
)

// Accepted bundle prefixes.
const (
	PrefixAPIKey = "APIKEY"
	PrefixAPI    = "API"
)

var errCredentialDestroyed = errors.New("credential has been destroyed")

// Credential is a parsed broker credential bundle.
// The raw AES key lives in a memguard Enclave (encrypted at rest in memory).
// Call Destroy() when done to release it.
type Credential struct {
	bundle    string
	prefix    string
	key       *memguard.Enclave
	keyLen    int
	destroyed bool
}

// ParseCredential validates bundle and decodes its key once.
func ParseCredential(bundle string) (*Credential, error) {
	prefix, encoded, ok := strings.Cut(bundle, "-")
	if !ok {
		return nil, configErrorf("missing %q separator", "-")
	}
	if prefix != PrefixAPIKey && prefix != PrefixAPI {
		return nil, configErrorf("unknown prefix %q", prefix)
	}
	if encoded == "" {
		return nil, configErrorf("empty key")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, configErrorf("key is not valid base64: %v", err)
	}
	if !util.ValidAESKeyLength(len(raw)) {
		n := len(raw)
		util.WipeBytes(raw)
		return nil, configErrorf("decoded key is %d bytes, want 16, 24 or 32", n)
	}
	n := len(raw)
	// NewEnclave wipes raw after copying it.
	return &Credential{
		bundle: bundle,
		prefix: prefix,
		key:    memguard.NewEnclave(raw),
		keyLen: n,
	}, nil
}

// ValidateAPIKey reports whether bundle would be accepted by ParseCredential.
func ValidateAPIKey(bundle string) bool {
	c, err := ParseCredential(bundle)
	if err != nil {
		return false
	}
	c.Destroy()
	return true
}

// Bundle returns the full bundle string, prefix included.
func (c *Credential) Bundle() string {
	if c == nil || c.destroyed {
		return ""
	}
	return c.bundle
}

// Prefix returns the bundle prefix (APIKEY or API).
func (c *Credential) Prefix() string {
	if c == nil || c.destroyed {
		return ""
	}
	return c.prefix
}

// KeySize returns the decoded AES key length in bytes.
func (c *Credential) KeySize() int {
	if c == nil || c.destroyed {
		return 0
	}
	return c.keyLen
}

// withKey opens the enclave for the duration of fn.
func (c *Credential) withKey(fn func(key []byte) error) error {
	if c == nil || c.destroyed {
		return errCredentialDestroyed
	}
	buf, err := c.key.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy drops the key material. After calling Destroy, the Credential
// must not be reused.
func (c *Credential) Destroy() {
	if c == nil || c.destroyed {
		return
	}
	c.key = nil
	c.bundle = ""
	c.prefix = ""
	c.keyLen = 0
	c.destroyed = true
}
