// Package api exposes the chat assistant over HTTP and a history websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"uni.edu.pe/chatbot-uni/internal/answerer"
	"uni.edu.pe/chatbot-uni/internal/auth"
	"uni.edu.pe/chatbot-uni/internal/core"
	"uni.edu.pe/chatbot-uni/internal/logger"
)

const sessionCookie = "chatbot_session"

type contextKey string

const (
	claimsKey contextKey = "claims"
	loggerKey contextKey = "logger"
)

type APIHandler struct {
	identity *core.IdentityService
	sessions *core.SessionManager
	history  *core.HistoryService
	answerer answerer.Answerer

	// OriginPatterns are accepted by the history websocket in addition to
	// same-origin requests.
	OriginPatterns []string
}

func NewAPIHandler(identity *core.IdentityService, sessions *core.SessionManager, history *core.HistoryService, ans answerer.Answerer) *APIHandler {
	return &APIHandler{
		identity: identity,
		sessions: sessions,
		history:  history,
		answerer: ans,
	}
}

// RequestLogger attaches a logger carrying a fresh request id to the request
// context.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.NewRequestLogger().With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey, l)))
	})
}

func requestLog(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// bearerToken finds the session token in the Authorization header or the
// session cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		claims, err := h.identity.Authenticate(tokenString)
		if err != nil {
			requestLog(r).Debug("rejected token", "error", err)
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// UserKey buckets rate limits by the authenticated user.
func UserKey(r *http.Request) string {
	if claims := claimsFrom(r); claims != nil {
		return claims.UserID
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusFor maps service errors to an HTTP status and a user-facing message.
func statusFor(err error) (int, string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "Por favor completa todos los campos"
	case errors.Is(err, core.ErrEmptyMessage):
		return http.StatusBadRequest, "El mensaje no puede estar vacío"
	case errors.Is(err, core.ErrUnknownSuggestion):
		return http.StatusBadRequest, "Sugerencia desconocida"
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Credenciales inválidas"
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, core.ForbiddenText
	case errors.Is(err, core.ErrTranscriptUnavailable):
		return http.StatusNotFound, core.UnavailableText
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound, "Sesión no encontrada"
	case errors.Is(err, core.ErrUserNotFound):
		return http.StatusNotFound, "Usuario no encontrado"
	case errors.Is(err, core.ErrBusy):
		return http.StatusConflict, "Espera la respuesta anterior"
	case errors.Is(err, core.ErrEmailInUse):
		return http.StatusConflict, "Este correo ya está registrado"
	case errors.Is(err, core.ErrOffline):
		return http.StatusServiceUnavailable, core.OfflineSubmitText
	case errors.Is(err, core.ErrFederatedNotConfigured):
		return http.StatusNotImplemented, "Inicio de sesión con Google no disponible"
	}
	return http.StatusInternalServerError, "Error interno del servidor"
}

func (h *APIHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		requestLog(r).Error("request failed", "error", err)
	}
	resp := errorResponse{Error: msg}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

// HealthHandler reports the service status and whether the answering
// service is reachable.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := core.ConnectivityOnline
	if err := h.answerer.Health(ctx); err != nil {
		status = core.ConnectivityOffline
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "answerer": string(status)})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GoogleLoginRequest struct {
	Credential string `json:"credential"`
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, res *core.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req core.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.identity.Register(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setSessionCookie(w, r, res)
	writeJSON(w, http.StatusCreated, res)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	res, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setSessionCookie(w, r, res)
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "Credential is required")
		return
	}

	res, err := h.identity.FederatedSignIn(r.Context(), req.Credential)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	setSessionCookie(w, r, res)
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.identity.SignOut(claimsFrom(r))
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.CurrentUser(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) CompleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req core.ProfileInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.identity.CompleteProfile(r.Context(), claimsFrom(r).UserID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type DisplayNameRequest struct {
	FullName string `json:"fullName"`
}

func (h *APIHandler) UpdateDisplayNameHandler(w http.ResponseWriter, r *http.Request) {
	var req DisplayNameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.identity.UpdateDisplayName(r.Context(), claimsFrom(r).UserID, req.FullName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) ProgramsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Programs())
}
