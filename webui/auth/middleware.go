package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mochi_backend/webui"
)

// Defaults for the auth middleware.
const (
	DefaultRateLimitAttempts = 5
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitBlock    = 5 * time.Minute
	DefaultSessionTTL        = 24 * time.Hour
	DefaultFailedLoginDelay  = time.Second
	DefaultCleanupInterval   = 5 * time.Minute
)

// Config tunes the AuthMiddleware.
type Config struct {
	// SessionTTL is how long a session lasts (default: 24h)
	SessionTTL time.Duration

	// RateLimitAttempts failures within RateLimitWindow block the IP for RateLimitBlock
	RateLimitAttempts int
	RateLimitWindow   time.Duration
	RateLimitBlock    time.Duration

	// SecureCookies sets the Secure cookie flag for HTTPS deployments
	SecureCookies bool

	// SessionSecret signs session cookies when set
	SessionSecret string

	// BcryptCost for hashing the configured password (default: DefaultCost)
	BcryptCost int

	// FailedLoginDelay slows every failed attempt (default: 1s)
	FailedLoginDelay time.Duration
}

// DefaultConfig returns a Config with the defaults above.
func DefaultConfig() Config {
	return Config{
		SessionTTL:        DefaultSessionTTL,
		RateLimitAttempts: DefaultRateLimitAttempts,
		RateLimitWindow:   DefaultRateLimitWindow,
		RateLimitBlock:    DefaultRateLimitBlock,
		BcryptCost:        DefaultCost,
		FailedLoginDelay:  DefaultFailedLoginDelay,
	}
}

// AuthMiddleware checks the session cookie or Basic credentials on every
// protected request. It implements webui.AuthProvider.
type AuthMiddleware struct {
	passwordHash string
	sessions     *webui.SessionStore
	rateLimiter  *webui.RateLimiter
	cookieConfig CookieConfig
	loginDelay   time.Duration
	logger       *zap.Logger
}

var _ webui.AuthProvider = (*AuthMiddleware)(nil)

// NewAuthMiddleware creates a middleware for password with DefaultConfig.
func NewAuthMiddleware(password string, logger *zap.Logger) (*AuthMiddleware, error) {
	return NewAuthMiddlewareWithConfig(password, logger, DefaultConfig())
}

// NewAuthMiddlewareWithConfig hashes password and builds the session store
// and rate limiter from cfg.
func NewAuthMiddlewareWithConfig(password string, logger *zap.Logger, cfg Config) (*AuthMiddleware, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultCost
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	hash, err := HashPassword(password, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	cookie := DefaultCookieConfig()
	cookie.Secure = cfg.SecureCookies
	cookie.MaxAge = DurationToSeconds(cfg.SessionTTL)
	cookie.Secret = cfg.SessionSecret

	return &AuthMiddleware{
		passwordHash: hash,
		sessions:     webui.NewSessionStore(cfg.SessionTTL),
		rateLimiter:  webui.NewRateLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow, cfg.RateLimitBlock),
		cookieConfig: cookie,
		loginDelay:   cfg.FailedLoginDelay,
		logger:       logger.Named("auth"),
	}, nil
}

// Middleware lets a request through with a live session cookie or valid
// Basic credentials. Browsers asking for HTML are redirected to the login
// page; everything else gets 401.
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := ParseSessionCookie(r, m.cookieConfig); err == nil {
			if _, err := m.sessions.Get(id); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		if _, password, ok := r.BasicAuth(); ok {
			ip := webui.ClientIP(r)
			if !m.CheckRateLimit(w, ip) {
				return
			}
			if err := m.VerifyPassword(password); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			m.RecordFailedAttempt(ip)
		}

		m.logger.Debug("Unauthenticated request",
			zap.String("path", r.URL.Path),
			zap.String("ip", webui.ClientIP(r)),
		)
		if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// LoginHandler implements webui.AuthProvider.
func (m *AuthMiddleware) LoginHandler() http.HandlerFunc {
	return LoginHandler(m)
}

// LogoutHandler implements webui.AuthProvider.
func (m *AuthMiddleware) LogoutHandler() http.HandlerFunc {
	return LogoutHandler(m)
}

// CheckRateLimit writes 429 with Retry-After and returns false when ip is
// blocked.
func (m *AuthMiddleware) CheckRateLimit(w http.ResponseWriter, ip string) bool {
	allowed, remaining := m.rateLimiter.Allow(ip)
	if allowed {
		return true
	}
	m.logger.Warn("Rate limit exceeded",
		zap.String("ip", ip),
		zap.Duration("remaining", remaining),
	)
	w.Header().Set("Retry-After", formatRetryAfter(remaining))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	return false
}

// RecordFailedAttempt counts a failure for ip.
func (m *AuthMiddleware) RecordFailedAttempt(ip string) {
	m.rateLimiter.RecordAttempt(ip)
	m.logger.Info("Failed authentication attempt",
		zap.String("ip", ip),
		zap.Int("attempts", m.rateLimiter.AttemptCount(ip)),
	)
}

// ResetRateLimit clears ip after a successful login.
func (m *AuthMiddleware) ResetRateLimit(ip string) {
	m.rateLimiter.Reset(ip)
}

// VerifyPassword checks password against the configured hash.
func (m *AuthMiddleware) VerifyPassword(password string) error {
	return VerifyPassword(password, m.passwordHash)
}

// CreateSession starts a session and returns the cookie to set.
func (m *AuthMiddleware) CreateSession() (webui.Session, *http.Cookie, error) {
	session, err := m.sessions.Create()
	if err != nil {
		return webui.Session{}, nil, err
	}
	cookie, err := NewSessionCookie(session.ID, m.cookieConfig)
	if err != nil {
		return webui.Session{}, nil, err
	}
	m.logger.Info("Session created",
		zap.String("session", truncateSessionID(session.ID)),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session, cookie, nil
}

// DestroySession ends a session and returns the clearing cookie.
func (m *AuthMiddleware) DestroySession(sessionID string) *http.Cookie {
	m.sessions.Delete(sessionID)
	return ClearSessionCookie(m.cookieConfig)
}

// GetSession returns a live session.
func (m *AuthMiddleware) GetSession(sessionID string) (webui.Session, error) {
	return m.sessions.Get(sessionID)
}

// SessionStore exposes the session store.
func (m *AuthMiddleware) SessionStore() *webui.SessionStore {
	return m.sessions
}

// StartCleanup prunes expired sessions and rate-limit records until ctx is
// done.
func (m *AuthMiddleware) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	m.sessions.StartCleanupTicker(ctx, interval)
	m.rateLimiter.StartCleanupTicker(ctx, interval)
}

// failureDelay waits out the failed-login delay unless the client goes away.
func (m *AuthMiddleware) failureDelay(ctx context.Context) {
	if m.loginDelay <= 0 {
		return
	}
	t := time.NewTimer(m.loginDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// formatRetryAfter rounds up to whole seconds.
func formatRetryAfter(d time.Duration) string {
	return strconv.Itoa(max(int((d+time.Second-1)/time.Second), 1))
}

func truncateSessionID(id string) string {
	if len(id) <= 8 {
		return id + "..."
	}
	return id[:8] + "..."
}
