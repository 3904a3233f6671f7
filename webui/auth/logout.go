package auth

import (
	"net/http"

	"go.uber.org/zap"

	"mochi_backend/webui"
)

// LogoutHandler ends the session, clears the cookie and redirects to the
// login page. It is idempotent.
func LogoutHandler(m *AuthMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if id, err := ParseSessionCookie(r, m.cookieConfig); err == nil {
			m.DestroySession(id)
			m.logger.Info("Logged out",
				zap.String("session", truncateSessionID(id)),
				zap.String("ip", webui.ClientIP(r)),
			)
		}
		http.SetCookie(w, ClearSessionCookie(m.cookieConfig))

		code := http.StatusFound
		if r.Method == http.MethodPost {
			code = http.StatusSeeOther
		}
		http.Redirect(w, r, LoginPath, code)
	}
}
