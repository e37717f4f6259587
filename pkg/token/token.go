// Package token implements the authorization kernel's token manager (C1):
// authenticated-encryption bearer tokens carrying client/endpoint/permission
// claims, and the client-identity derivation function shared with the
// admission middleware.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeySize is the size in bytes of the process secret key.
const KeySize = 32

// Claims is the plaintext payload sealed inside a bearer token. Fields are
// declared in JSON-key order, and that order is fixed by this struct
// definition, which makes encoding/json's output
// deterministic (Go struct marshaling never reorders fields), giving the
// "canonical key-sorted object" spec.md asks for without a third-party
// canonical-JSON library.
type Claims struct {
	ClientID    string   `json:"client_id"`
	Endpoint    string   `json:"endpoint"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	IssuedAt    int64    `json:"issued_at"`
	Permissions []string `json:"permissions"`

	// SessionEpoch is set only on SESSION-kind tokens. It binds the token
	// to the manager's in-memory boot epoch so that SESSION grants are
	// refused after a process restart even though the secret key (and
	// therefore the token's ciphertext) remains valid. See spec.md §4.1.
	SessionEpoch string `json:"session_epoch,omitempty"`
}

// Clock abstracts time so tests can control expiry without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager mints and validates tokens under a process secret key.
type Manager struct {
	clock     Clock
	bootEpoch string
	aead      cipher.AEAD
}

// NewManager constructs a Manager over the given 32-byte secret key.
func NewManager(secret []byte, clock Clock) (*Manager, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("token: secret key must be %d bytes, got %d", KeySize, len(secret))
	}
	if clock == nil {
		clock = realClock{}
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("token: failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: failed to initialize AEAD: %w", err)
	}

	return &Manager{
		clock:     clock,
		bootEpoch: uuid.NewString(),
		aead:      aead,
	}, nil
}

// GenerateSecret returns a fresh random 32-byte key suitable for NewManager.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("token: failed to generate secret: %w", err)
	}
	return secret, nil
}

// Mint assembles claims and seals them into a URL-safe token string.
// expiresInHours of nil means no expiry (PERMANENT grants).
func (m *Manager) Mint(clientID, endpoint string, permissions []string, expiresInHours *float64) (string, error) {
	return m.mint(clientID, endpoint, permissions, expiresInHours, "")
}

// MintSession is like Mint but binds the token to this manager's in-memory
// boot epoch, so Validate rejects it once the process has restarted.
func (m *Manager) MintSession(clientID, endpoint string, permissions []string) (string, error) {
	return m.mint(clientID, endpoint, permissions, nil, m.bootEpoch)
}

func (m *Manager) mint(
	clientID, endpoint string,
	permissions []string,
	expiresInHours *float64,
	sessionEpoch string,
) (string, error) {
	now := m.clock.Now()

	var expiresAt *int64
	if expiresInHours != nil {
		e := now.Add(time.Duration(*expiresInHours * float64(time.Hour))).Unix()
		expiresAt = &e
	}

	claims := Claims{
		ClientID:     clientID,
		Endpoint:     endpoint,
		Permissions:  append([]string{}, permissions...),
		IssuedAt:     now.Unix(),
		ExpiresAt:    expiresAt,
		SessionEpoch: sessionEpoch,
	}

	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: failed to marshal claims: %w", err)
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: failed to generate nonce: %w", err)
	}

	sealed := m.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Validate decrypts and verifies a token, returning nil (not an error) for
// any forgery, corruption, or expiry condition per spec.md's contract: token
// invalidity is not surfaced distinctly from "absent".
func (m *Manager) Validate(tokenString string) *Claims {
	sealed, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return nil
	}

	nonceSize := m.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := m.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil
	}

	var claims Claims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil
	}
	if claims.ClientID == "" || claims.Endpoint == "" {
		return nil
	}

	if claims.ExpiresAt != nil && m.clock.Now().Unix() >= *claims.ExpiresAt {
		return nil
	}

	if claims.SessionEpoch != "" && claims.SessionEpoch != m.bootEpoch {
		return nil
	}

	return &claims
}

// ErrInvalidClientIdentity is returned by DeriveClientID when name is empty.
var ErrInvalidClientIdentity = errors.New("token: client name must not be empty")

// DeriveClientID computes the opaque 16-hex-character client identity from
// an advertised process name and optional PID, per spec.md §3.
func DeriveClientID(name string, pid *int) (string, error) {
	if name == "" {
		return "", ErrInvalidClientIdentity
	}

	data := name
	if pid != nil {
		data = fmt.Sprintf("%s:%d", name, *pid)
	}

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16], nil
}
