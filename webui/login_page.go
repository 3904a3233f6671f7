package webui

import (
	"html/template"
	"io"
	"net/http"
)

const loginPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Mochi Diffusion - Sign in</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            background: #1c1b22;
            color: #f4f1ea;
        }
        .card {
            background: #2a2833;
            border-radius: 14px;
            padding: 40px;
            width: 100%;
            max-width: 380px;
            box-shadow: 0 20px 40px rgba(0, 0, 0, 0.4);
        }
        h1 { font-size: 24px; margin-bottom: 6px; }
        p.sub { font-size: 14px; color: #a9a4b8; margin-bottom: 24px; }
        form { display: flex; flex-direction: column; gap: 16px; }
        input {
            padding: 12px 14px;
            font-size: 15px;
            border: 1px solid #4a4658;
            border-radius: 8px;
            background: #1c1b22;
            color: inherit;
        }
        button {
            padding: 12px;
            font-size: 15px;
            font-weight: 600;
            color: #1c1b22;
            background: #f2c1d1;
            border: none;
            border-radius: 8px;
            cursor: pointer;
        }
        .error {
            padding: 10px 12px;
            font-size: 14px;
            color: #fca5a5;
            background: rgba(239, 68, 68, 0.15);
            border-radius: 8px;
        }
    </style>
</head>
<body>
    <div class="card">
        <h1>Mochi Diffusion</h1>
        <p class="sub">Enter the controller password to continue</p>
        <form method="POST" action="/login">
            {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
            <input type="password" name="password" placeholder="Password" required autofocus>
            <button type="submit">Sign in</button>
        </form>
    </div>
</body>
</html>`

// LoginPageData is the login template input.
type LoginPageData struct {
	Error string
}

var loginTemplate = template.Must(template.New("login").Parse(loginPageHTML))

// RenderLoginPage writes the login page.
func RenderLoginPage(w io.Writer, data LoginPageData) error {
	return loginTemplate.Execute(w, data)
}

// HandleLoginPage renders the login form, showing ?error= if present.
func HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")

	data := LoginPageData{Error: r.URL.Query().Get("error")}
	if err := RenderLoginPage(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
