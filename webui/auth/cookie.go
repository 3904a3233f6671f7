package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Cookie defaults.
const (
	SessionCookieName = "mochi_session"
	DefaultCookiePath = "/"
)

// Cookie errors.
var (
	ErrNoCookie        = errors.New("cookie not found")
	ErrEmptySessionID  = errors.New("session ID cannot be empty")
	ErrInvalidCookie   = errors.New("cookie signature is invalid")
	ErrEmptyCookieName = errors.New("cookie name cannot be empty")
)

// CookieConfig holds the session cookie attributes. When Secret is set the
// cookie value is the session id followed by an HMAC-SHA256 signature.
type CookieConfig struct {
	Name     string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Path     string
	Secret   string
}

// DefaultCookieConfig returns an HTTP-only, SameSite=Strict cookie that
// lives for a day.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     SessionCookieName,
		MaxAge:   DurationToSeconds(24 * time.Hour),
		HTTPOnly: true,
		SameSite: http.SameSiteStrictMode,
		Path:     DefaultCookiePath,
	}
}

// NewSessionCookie builds the cookie carrying sessionID.
func NewSessionCookie(sessionID string, cfg CookieConfig) (*http.Cookie, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if cfg.Name == "" {
		return nil, ErrEmptyCookieName
	}
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    signValue(sessionID, cfg.Secret),
		Path:     cfg.Path,
		MaxAge:   cfg.MaxAge,
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}, nil
}

// ParseSessionCookie returns the session id from the request cookie,
// checking its signature when cfg.Secret is set.
func ParseSessionCookie(r *http.Request, cfg CookieConfig) (string, error) {
	c, err := r.Cookie(cfg.Name)
	if err != nil {
		return "", ErrNoCookie
	}
	if c.Value == "" {
		return "", ErrEmptySessionID
	}
	return verifyValue(c.Value, cfg.Secret)
}

// ClearSessionCookie returns a cookie that deletes the session cookie.
func ClearSessionCookie(cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: cfg.HTTPOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// DurationToSeconds converts a duration to a cookie MaxAge.
func DurationToSeconds(d time.Duration) int {
	return int(d / time.Second)
}

func signValue(id, secret string) string {
	if secret == "" {
		return id
	}
	return id + "." + signature(id, secret)
}

func verifyValue(value, secret string) (string, error) {
	if secret == "" {
		return value, nil
	}
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", ErrInvalidCookie
	}
	if !hmac.Equal([]byte(sig), []byte(signature(id, secret))) {
		return "", ErrInvalidCookie
	}
	return id, nil
}

func signature(id, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
