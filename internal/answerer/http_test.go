package answerer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newAnswerServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", 2*time.Second)
}

func TestHTTPClient_Health(t *testing.T) {
	c := newAnswerServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.Health(context.Background()))

	down := newAnswerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := down.Health(context.Background())
	require.Error(t, err)
	require.Equal(t, KindConnectivity, Classify(err))
	require.True(t, errors.Is(err, ErrUnreachable))
}

func TestHTTPClient_HealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPClient(url, time.Second).Health(context.Background())
	require.Error(t, err)
	require.Equal(t, KindConnectivity, Classify(err))
}

func TestHTTPClient_Ask(t *testing.T) {
	c := newAnswerServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/pregunta", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "fechas de matrícula 2024", req["pregunta"])

		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "respuesta": "**Matrícula:** 1. Fecha: 10 de marzo"})
	})

	answer, err := c.Ask(context.Background(), "fechas de matrícula 2024")
	require.NoError(t, err)
	require.Equal(t, "**Matrícula:** 1. Fecha: 10 de marzo", answer)
}

func TestHTTPClient_AskFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"success":false,"error":"Too many"}`, KindRateLimit, "Too many"},
		{"unauthorized", http.StatusUnauthorized, `{"success":false}`, KindAuthConfig, "Error en la respuesta del servidor"},
		{"auth message", http.StatusOK, `{"success":false,"error":"Error de autenticación con el proveedor"}`, KindAuthConfig, "Error de autenticación con el proveedor"},
		{"429 in message", http.StatusInternalServerError, `{"error":"upstream 429"}`, KindRateLimit, "upstream 429"},
		{"application", http.StatusOK, `{"success":false,"error":"Pregunta vacía"}`, KindApplication, "Pregunta vacía"},
		{"application default", http.StatusOK, `{"success":false}`, KindApplication, "Error en el procesamiento de la pregunta"},
		{"server error non json", http.StatusBadGateway, `bad gateway`, KindApplication, "Error en la respuesta del servidor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAnswerServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := c.Ask(context.Background(), "hola")
			require.Error(t, err)

			var aerr *Error
			require.True(t, errors.As(err, &aerr))
			require.Equal(t, tt.kind, aerr.Kind)
			require.Equal(t, tt.message, aerr.Message)
			require.Equal(t, tt.kind, Classify(err))
		})
	}
}

func TestHTTPClient_AskUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).Ask(context.Background(), "hola")
	require.Error(t, err)
	require.Equal(t, KindConnectivity, Classify(err))
}

func TestClassify_ForeignErrors(t *testing.T) {
	require.Equal(t, KindConnectivity, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.Equal(t, KindRateLimit, Classify(errors.New("status 429")))
	require.Equal(t, KindAuthConfig, Classify(errors.New("fallo de autenticación")))
	require.Equal(t, KindApplication, Classify(errors.New("otra cosa")))
	require.Equal(t, "rate_limit", KindRateLimit.String())
}
