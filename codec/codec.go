// Package codec encrypts individual record fields with a key derived from the
// user's secret. The wire format is base64(nonce || ciphertext || tag) so that
// records written by the legacy vault decrypt unchanged.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultSalt is the salt every legacy vault was written with.
	DefaultSalt = "mylife-salt-heirloom"
	// DefaultIterations is the PBKDF2 work factor of the legacy vault.
	DefaultIterations = 100000

	keyLen    = 32
	nonceSize = 12
	tagSize   = 16
)

// Fallback reasons reported by LegacyPlaintextFallback.
const (
	ReasonNotBase64  = "not_base64"
	ReasonTooShort   = "too_short"
	ReasonAuthFailed = "auth_failed"
)

var errEmptySecret = errors.New("codec: empty secret")

// Codec derives an AES-256-GCM key from a secret once and uses it for every field.
type Codec struct {
	secret     string
	salt       []byte
	iterations int
	logger     zerolog.Logger

	once   sync.Once
	aead   cipher.AEAD
	keyErr error

	notBase64  atomic.Int64
	tooShort   atomic.Int64
	authFailed atomic.Int64
}

// Option configures a Codec.
type Option func(*Codec)

// WithSalt overrides the default salt.
func WithSalt(salt []byte) Option {
	return func(c *Codec) {
		if len(salt) > 0 {
			c.salt = append([]byte(nil), salt...)
		}
	}
}

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger.With().Str("component", "codec").Logger()
	}
}

// New creates a codec for secret. Key derivation is deferred to first use.
func New(secret string, opts ...Option) *Codec {
	c := &Codec{
		secret:     secret,
		salt:       []byte(DefaultSalt),
		iterations: DefaultIterations,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) block() (cipher.AEAD, error) {
	c.once.Do(func() {
		if c.secret == "" {
			c.keyErr = errEmptySecret
			return
		}
		key := pbkdf2.Key([]byte(c.secret), c.salt, c.iterations, keyLen, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			c.keyErr = fmt.Errorf("create cipher: %w", err)
			return
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			c.keyErr = fmt.Errorf("create gcm: %w", err)
			return
		}
		c.aead = aead
	})
	return c.aead, c.keyErr
}

// EncryptField encrypts plaintext with a fresh random nonce.
func (c *Codec) EncryptField(plaintext string) (string, error) {
	aead, err := c.block()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField decrypts a field written by EncryptField. It never fails: any
// blob that cannot be decrypted is returned unchanged (LegacyPlaintextFallback),
// since vaults written before encryption hold plaintext in the same fields.
func (c *Codec) DecryptField(blob string) string {
	if blob == "" {
		return blob
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return c.fallback(blob, ReasonNotBase64)
	}
	if len(raw) < nonceSize+tagSize {
		return c.fallback(blob, ReasonTooShort)
	}
	aead, err := c.block()
	if err != nil {
		return c.fallback(blob, ReasonAuthFailed)
	}
	plain, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return c.fallback(blob, ReasonAuthFailed)
	}
	return string(plain)
}

func (c *Codec) fallback(blob, reason string) string {
	switch reason {
	case ReasonNotBase64:
		c.notBase64.Add(1)
	case ReasonTooShort:
		c.tooShort.Add(1)
	default:
		// Valid framing that fails authentication is a wrong key or a corrupted record.
		c.authFailed.Add(1)
	}
	c.logger.Debug().
		Str("reason", reason).
		Int("length", len(blob)).
		Msg("Returning field unchanged")
	return blob
}

// FallbackStats counts LegacyPlaintextFallback applications by reason.
type FallbackStats struct {
	NotBase64  int64
	TooShort   int64
	AuthFailed int64
}

// Total returns the number of fallbacks across all reasons.
func (s FallbackStats) Total() int64 { return s.NotBase64 + s.TooShort + s.AuthFailed }

// Fallbacks returns the fallback counters.
func (c *Codec) Fallbacks() FallbackStats {
	return FallbackStats{
		NotBase64:  c.notBase64.Load(),
		TooShort:   c.tooShort.Load(),
		AuthFailed: c.authFailed.Load(),
	}
}

// FallbackCount returns the total number of fallbacks.
func (c *Codec) FallbackCount() int64 { return c.Fallbacks().Total() }
