package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieManager binds requests to a browser session id carried in a signed cookie.
type CookieManager struct {
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewCookieManager constructs a CookieManager.
func NewCookieManager(name, secret string, ttl time.Duration, secure bool) *CookieManager {
	return &CookieManager{name: name, secret: []byte(secret), ttl: ttl, secure: secure}
}

// BrowserID returns the id carried by the request, or a new one when the
// cookie is missing, malformed or carries a bad signature. fresh reports
// whether a new id was minted.
func (m *CookieManager) BrowserID(r *http.Request) (id string, fresh bool) {
	cookie, err := r.Cookie(m.name)
	if err == nil {
		if id, ok := m.verify(cookie.Value); ok {
			return id, false
		}
	}
	return uuid.NewString(), true
}

// Write sets the session cookie.
func (m *CookieManager) Write(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    m.sign(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(m.ttl),
	})
}

// Expire removes the session cookie.
func (m *CookieManager) Expire(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Name returns the cookie name.
func (m *CookieManager) Name() string {
	return m.name
}

// TTL exposes the configured session lifetime.
func (m *CookieManager) TTL() time.Duration {
	return m.ttl
}

// Value returns the signed cookie value for id.
func (m *CookieManager) Value(id string) string {
	return m.sign(id)
}

func (m *CookieManager) sign(id string) string {
	return id + "." + m.mac(id)
}

func (m *CookieManager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(m.mac(id))) {
		return "", false
	}
	return parsed.String(), true
}

func (m *CookieManager) mac(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
