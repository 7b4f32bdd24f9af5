package answerer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	systemInstruction = "Eres el asistente virtual de la universidad. Respondes preguntas sobre trámites, horarios, " +
		"cursos, becas, admisión y fechas importantes usando el contexto institucional proporcionado. " +
		"Si la respuesta no está en el contexto, dilo claramente y sugiere acudir a la oficina correspondiente. " +
		"Responde en español, de forma breve. Usa listas numeradas para pasos y **negritas** para etiquetas."
)

// ContextRetriever supplies institutional context for a question.
type ContextRetriever interface {
	RelevantContext(ctx context.Context, query string) (string, error)
}

// GeminiAnswerer answers in-process with a Gemini model, optionally grounded
// on retrieved knowledge chunks.
type GeminiAnswerer struct {
	client    *genai.Client
	modelName string
	retriever ContextRetriever
}

func NewGeminiAnswerer(ctx context.Context, apiKey, modelName string) (*GeminiAnswerer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = defaultChatModelName
	}
	return &GeminiAnswerer{client: client, modelName: modelName}, nil
}

// SetRetriever enables retrieval; nil disables it.
func (g *GeminiAnswerer) SetRetriever(r ContextRetriever) {
	g.retriever = r
}

func (g *GeminiAnswerer) Close() {
	if g.client == nil {
		return
	}
	if err := g.client.Close(); err != nil {
		slog.Error("error closing GenAI client", "error", err)
	} else {
		slog.Info("GenAI client closed")
	}
}

func (g *GeminiAnswerer) Health(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.modelName).Info(ctx); err != nil {
		kind := classifyGemini(err)
		if kind == KindApplication {
			kind = KindConnectivity
		}
		return &Error{Kind: kind, Message: "model info request failed", Err: errors.Join(ErrUnreachable, err)}
	}
	return nil
}

// Embed returns the embedding vector for text. Used for knowledge ingestion
// and retrieval.
func (g *GeminiAnswerer) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (g *GeminiAnswerer) Ask(ctx context.Context, question string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(g.buildPrompt(ctx, question)))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", &Error{Kind: KindApplication, Message: "La pregunta no pudo ser respondida por políticas de contenido.", Err: err}
		}
		return "", &Error{Kind: classifyGemini(err), Message: "gemini request failed", Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &Error{Kind: KindApplication, Message: "El asistente no generó una respuesta."}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			slog.Debug("gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	if responseText.Len() == 0 {
		return "", &Error{Kind: KindApplication, Message: "El asistente no generó una respuesta."}
	}
	return responseText.String(), nil
}

func (g *GeminiAnswerer) buildPrompt(ctx context.Context, question string) string {
	if g.retriever == nil {
		return question
	}
	relevant, err := g.retriever.RelevantContext(ctx, question)
	if err != nil {
		slog.Warn("failed to get relevant context, proceeding without it", "error", err)
		return question
	}
	if relevant == "" {
		return question
	}
	return fmt.Sprintf("Contexto institucional:\n\n--- CONTEXTO ---\n%s\n--- FIN DEL CONTEXTO ---\n\nPregunta: %s", relevant, question)
}

// classifyGemini maps REST and gRPC status codes onto a Kind.
func classifyGemini(err error) Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if kind, ok := kindForStatus(gerr.Code); ok {
			return kind
		}
		if gerr.Code == http.StatusServiceUnavailable || gerr.Code == http.StatusGatewayTimeout {
			return KindConnectivity
		}
		return KindApplication
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return KindRateLimit
	case codes.Unauthenticated, codes.PermissionDenied:
		return KindAuthConfig
	case codes.Unavailable, codes.DeadlineExceeded:
		return KindConnectivity
	}
	return Classify(err)
}
