// Package cookie writes encrypted cookies and one-time flash values.
package cookie

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

const (
	minSecretLength = 32
	flashPrefix     = "__flash_"
)

// Manager reads and writes cookies with shared default attributes.
type Manager struct {
	secrets  []string
	defaults Options
}

// New creates a Manager. Every secret must be at least 32 characters;
// the first 32 bytes are used as the AES-256 key.
func New(secrets []string, opts ...Option) (*Manager, error) {
	secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	if len(secrets) == 0 {
		return nil, ErrNoSecret
	}
	for i, s := range secrets {
		if len(s) < minSecretLength {
			return nil, fmt.Errorf("%w: secret %d has %d chars, need at least %d", ErrSecretTooShort, i, len(s), minSecretLength)
		}
	}

	defaults := Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}.apply(opts)

	return &Manager{secrets: secrets, defaults: defaults}, nil
}

// Set writes a plain cookie.
func (m *Manager) Set(w http.ResponseWriter, name, value string, opts ...Option) {
	o := m.defaults.apply(opts)
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   o.MaxAge,
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	})
}

// Get reads a plain cookie. Returns ErrCookieNotFound if it is absent.
func (m *Manager) Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrCookieNotFound
		}
		return "", err
	}
	return c.Value, nil
}

// Delete expires a cookie.
func (m *Manager) Delete(w http.ResponseWriter, name string) {
	m.Set(w, name, "", WithMaxAge(-1))
}

// SetEncrypted writes value encrypted with AES-GCM.
func (m *Manager) SetEncrypted(w http.ResponseWriter, name, value string, opts ...Option) error {
	enc, err := m.encrypt(value)
	if err != nil {
		return err
	}
	m.Set(w, name, enc, opts...)
	return nil
}

// GetEncrypted reads and decrypts a cookie written by SetEncrypted.
func (m *Manager) GetEncrypted(r *http.Request, name string) (string, error) {
	enc, err := m.Get(r, name)
	if err != nil {
		return "", err
	}
	return m.decrypt(enc)
}

// SetFlash stores value as JSON in an encrypted cookie that GetFlash
// consumes on the next request.
func (m *Manager) SetFlash(w http.ResponseWriter, _ *http.Request, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal flash: %w", err)
	}
	return m.SetEncrypted(w, flashPrefix+key, string(data))
}

// GetFlash decodes the flash value into dest and deletes the cookie. A flash
// that cannot be decrypted or decoded is deleted as well.
func (m *Manager) GetFlash(w http.ResponseWriter, r *http.Request, key string, dest any) error {
	name := flashPrefix + key

	enc, err := m.Get(r, name)
	if err != nil {
		return err
	}
	m.Delete(w, name)

	data, err := m.decrypt(enc)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal flash: %w", err)
	}
	return nil
}

func (m *Manager) gcm(secret string) (cipher.AEAD, error) {
	block, err := aes.NewCipher([]byte(secret[:32]))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (m *Manager) encrypt(value string) (string, error) {
	aead, err := m.gcm(m.secrets[0])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// decrypt tries every secret so that cookies survive key rotation.
func (m *Manager) decrypt(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidFormat
	}
	for _, secret := range m.secrets {
		aead, err := m.gcm(secret)
		if err != nil || len(raw) < aead.NonceSize() {
			continue
		}
		nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
		if plain, err := aead.Open(nil, nonce, sealed, nil); err == nil {
			return string(plain), nil
		}
	}
	return "", ErrDecryptionFailed
}
