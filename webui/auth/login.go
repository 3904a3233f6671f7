package auth

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"mochi_backend/webui"
)

// Login routes.
const (
	LoginPath       = "/login"
	SuccessRedirect = "/"
)

// LoginHandler serves the login form on GET and checks the password on
// POST. A failed POST is delayed, counted against the client IP and
// redirected back with an error; a successful one sets the session cookie.
func LoginHandler(m *AuthMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if id, err := ParseSessionCookie(r, m.cookieConfig); err == nil {
				if _, err := m.GetSession(id); err == nil {
					http.Redirect(w, r, SuccessRedirect, http.StatusFound)
					return
				}
			}
			webui.HandleLoginPage(w, r)
		case http.MethodPost:
			handleLoginPOST(w, r, m)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

func handleLoginPOST(w http.ResponseWriter, r *http.Request, m *AuthMiddleware) {
	ip := webui.ClientIP(r)
	if !m.CheckRateLimit(w, ip) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	password := r.PostFormValue("password")
	if password == "" {
		m.failureDelay(r.Context())
		redirectWithError(w, r, "Password is required")
		return
	}

	if err := m.VerifyPassword(password); err != nil {
		m.RecordFailedAttempt(ip)
		m.failureDelay(r.Context())
		redirectWithError(w, r, "Invalid password")
		return
	}

	_, cookie, err := m.CreateSession()
	if err != nil {
		m.logger.Error("Failed to create session", zap.String("ip", ip), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	m.ResetRateLimit(ip)
	http.SetCookie(w, cookie)
	m.logger.Info("Login succeeded", zap.String("ip", ip))
	http.Redirect(w, r, SuccessRedirect, http.StatusSeeOther)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, LoginPath+"?error="+url.QueryEscape(msg), http.StatusSeeOther)
}
