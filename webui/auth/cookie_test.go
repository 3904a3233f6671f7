package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestSessionCookieRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "unsigned"},
		{name: "signed", secret: "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCookieConfig()
			cfg.Secret = tt.secret

			c, err := NewSessionCookie("abc123", cfg)
			if err != nil {
				t.Fatalf("NewSessionCookie() error = %v", err)
			}
			if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
				t.Errorf("cookie attributes = %+v", c)
			}
			if signed := strings.Contains(c.Value, "."); signed != (tt.secret != "") {
				t.Errorf("value %q signed = %v", c.Value, signed)
			}

			id, err := ParseSessionCookie(requestWithCookie(c), cfg)
			if err != nil || id != "abc123" {
				t.Errorf("ParseSessionCookie() = %q, %v", id, err)
			}
		})
	}
}

func TestParseSessionCookieRejects(t *testing.T) {
	cfg := DefaultCookieConfig()
	cfg.Secret = "s3cret"
	good, _ := NewSessionCookie("abc123", cfg)
	id, sig, _ := strings.Cut(good.Value, ".")

	tests := []struct {
		name    string
		cookie  *http.Cookie
		wantErr error
	}{
		{name: "missing", wantErr: ErrNoCookie},
		{name: "empty", cookie: &http.Cookie{Name: SessionCookieName, Value: ""}, wantErr: ErrEmptySessionID},
		{name: "unsigned", cookie: &http.Cookie{Name: SessionCookieName, Value: "abc123"}, wantErr: ErrInvalidCookie},
		{name: "tampered id", cookie: &http.Cookie{Name: SessionCookieName, Value: "abc124." + sig}, wantErr: ErrInvalidCookie},
		{name: "tampered signature", cookie: &http.Cookie{Name: SessionCookieName, Value: id + ".AAAA"}, wantErr: ErrInvalidCookie},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionCookie(requestWithCookie(tt.cookie), cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseSessionCookie() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	other := cfg
	other.Secret = "other"
	if _, err := ParseSessionCookie(requestWithCookie(good), other); !errors.Is(err, ErrInvalidCookie) {
		t.Errorf("cookie verified with the wrong secret: %v", err)
	}
}

func TestNewSessionCookieErrors(t *testing.T) {
	if _, err := NewSessionCookie("", DefaultCookieConfig()); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("empty id error = %v", err)
	}
	cfg := DefaultCookieConfig()
	cfg.Name = ""
	if _, err := NewSessionCookie("abc", cfg); !errors.Is(err, ErrEmptyCookieName) {
		t.Errorf("empty name error = %v", err)
	}
}

func TestClearSessionCookie(t *testing.T) {
	c := ClearSessionCookie(DefaultCookieConfig())
	if c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("clear cookie = %+v", c)
	}
	if DurationToSeconds(90*time.Second) != 90 {
		t.Error("DurationToSeconds(90s) != 90")
	}
}
