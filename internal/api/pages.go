package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Pages guards the client routes. Protected routes redirect to /login
// without a valid session; when a static bundle is configured its index.html
// is served for every client route.
type Pages struct {
	handler   *APIHandler
	staticDir string
	files     http.Handler
}

func NewPages(h *APIHandler, staticDir string) *Pages {
	p := &Pages{handler: h, staticDir: staticDir}
	if staticDir != "" {
		p.files = http.FileServer(http.Dir(staticDir))
	}
	return p
}

func (p *Pages) signedIn(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	_, err := p.handler.identity.Authenticate(token)
	return err == nil
}

func (p *Pages) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/chat", http.StatusFound)
}

// Public serves /login and /register.
func (p *Pages) Public(w http.ResponseWriter, r *http.Request) {
	p.serveApp(w, r)
}

// Protected serves /chat, /chat/{id}, /history and /settings.
func (p *Pages) Protected(w http.ResponseWriter, r *http.Request) {
	if !p.signedIn(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	p.serveApp(w, r)
}

// NotFound serves static assets when they exist and sends everything else
// to /login.
func (p *Pages) NotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if p.files != nil && p.assetExists(r.URL.Path) {
		p.files.ServeHTTP(w, r)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (p *Pages) assetExists(urlPath string) bool {
	clean := filepath.Clean("/" + urlPath)
	info, err := os.Stat(filepath.Join(p.staticDir, filepath.FromSlash(clean)))
	return err == nil && !info.IsDir()
}

func (p *Pages) serveApp(w http.ResponseWriter, r *http.Request) {
	if p.staticDir == "" {
		writeJSON(w, http.StatusOK, map[string]string{"route": r.URL.Path})
		return
	}
	http.ServeFile(w, r, filepath.Join(p.staticDir, "index.html"))
}
