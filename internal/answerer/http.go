// Package answerer talks to the university question-answering service.
package answerer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Answerer is the contract the chat session depends on.
type Answerer interface {
	// Health returns nil when the service is reachable.
	Health(ctx context.Context) error
	// Ask sends one question and returns the answer text.
	Ask(ctx context.Context, question string) (string, error)
}

type questionRequest struct {
	Pregunta string `json:"pregunta"`
}

type questionResponse struct {
	Success   bool   `json:"success"`
	Respuesta string `json:"respuesta,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HTTPClient calls the answering HTTP API: GET {base}/health and
// POST {base}/pregunta.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: KindConnectivity, Message: "health check failed", Err: errors.Join(ErrUnreachable, err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Error{
			Kind:    KindConnectivity,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("health check returned status %d", resp.StatusCode),
			Err:     ErrUnreachable,
		}
	}
	return nil
}

func (c *HTTPClient) Ask(ctx context.Context, question string) (string, error) {
	jsonData, err := json.Marshal(questionRequest{Pregunta: question})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pregunta", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &Error{Kind: KindConnectivity, Message: "failed to fetch answer", Err: err}
	}
	defer resp.Body.Close()

	var data questionResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := data.Error
		if msg == "" {
			msg = "Error en la respuesta del servidor"
		}
		kind, ok := kindForStatus(resp.StatusCode)
		if !ok {
			kind = classifyMessage(msg)
		}
		return "", &Error{Kind: kind, Status: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return "", &Error{Kind: KindApplication, Status: resp.StatusCode, Message: "respuesta inválida del servidor", Err: decodeErr}
	}

	if !data.Success {
		msg := data.Error
		if msg == "" {
			msg = "Error en el procesamiento de la pregunta"
		}
		return "", &Error{Kind: classifyMessage(msg), Status: resp.StatusCode, Message: msg}
	}

	return data.Respuesta, nil
}
