package webhook

import (
	"fmt"
	"html"
	"net/http"
)

// setSecurityHeaders sets the headers every callback page is served with.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s - assetauth</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center;
               min-height: 100vh; margin: 0; background: #f4f5f7; color: #222; }
        .box { max-width: 480px; padding: 2.5rem; background: #fff; border-radius: 12px;
               box-shadow: 0 2px 12px rgba(0, 0, 0, 0.08); text-align: center; }
        h1 { font-size: 1.5rem; margin: 0 0 1rem; color: %s; }
        p { line-height: 1.5; color: #555; }
    </style>
</head>
<body>
    <div class="box">
        <h1>%s</h1>
        <p>%s</p>
        <p>You can close this window.</p>
    </div>
</body>
</html>`

func renderPage(w http.ResponseWriter, status int, title, color, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	title = html.EscapeString(title)
	_, _ = fmt.Fprintf(w, pageTemplate, title, color, title, html.EscapeString(message))
}

func renderSuccessPage(w http.ResponseWriter, assetID string) {
	renderPage(w, http.StatusOK, "Authorization Complete", "#0a7d4f",
		fmt.Sprintf("Asset %s is now authorized. The waiting action will continue.", assetID))
}

func renderErrorPage(w http.ResponseWriter, status int, message string) {
	renderPage(w, status, "Authorization Failed", "#c0392b", message)
}
