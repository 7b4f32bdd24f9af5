package core

import (
	"errors"
	"time"
	"unicode/utf8"

	"uni.edu.pe/chatbot-uni/internal/answerer"
	"uni.edu.pe/chatbot-uni/internal/store"
)

const (
	WelcomeText = "¡Hola! 👋 Soy tu asistente virtual universitario. Puedo ayudarte con información sobre " +
		"trámites, horarios, cursos, fechas importantes y mucho más."

	OfflineSubmitText = "No hay conexión con el servidor. Intenta más tarde."
	ForbiddenText     = "No tienes permiso para ver esta conversación."
	UnavailableText   = "La conversación no existe o no está disponible."
	SaveFailedText    = "No se pudo guardar la conversación. Tus mensajes siguen visibles."

	errorPrefix       = "Hubo un problema al procesar tu pregunta. "
	errorConnectivity = "Verifica que el servidor esté ejecutándose."
	errorRateLimit    = "Demasiadas solicitudes. Intenta en unos minutos."
	errorAuthConfig   = "Error de configuración del asistente."
	errorSuffix       = "\n\n🔄 Puedes intentar de nuevo o contactar al administrador si el problema persiste."

	titleMaxRunes       = 50
	lastMessageMaxRunes = 100
)

type Suggestion struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// Suggestions are the preset queries offered before the first message.
var Suggestions = []Suggestion{
	{Label: "📅 Fechas de matrícula", Query: "fechas de matrícula 2024"},
	{Label: "⏰ Horarios de atención", Query: "horarios de atención"},
	{Label: "📚 Lista de cursos", Query: "cursos disponibles"},
	{Label: "💰 Información de becas", Query: "becas universitarias"},
	{Label: "📋 Proceso de admisión", Query: "proceso de admisión"},
	{Label: "🏢 Ubicación de oficinas", Query: "ubicación oficinas administrativas"},
}

type Connectivity string

const (
	ConnectivityChecking Connectivity = "checking"
	ConnectivityOnline   Connectivity = "online"
	ConnectivityOffline  Connectivity = "offline"
)

// StatusText is the human-readable connection line shown under the header.
func (c Connectivity) StatusText() string {
	switch c {
	case ConnectivityOnline:
		return "En línea • Tiempo de respuesta: ~5 seg"
	case ConnectivityOffline:
		return "Sin conexión • Servidor desconectado"
	default:
		return "Verificando conexión..."
	}
}

func welcomeMessage(now time.Time) store.Message {
	return store.Message{
		ID:        now.UnixMilli(),
		Sender:    store.SenderBot,
		Text:      WelcomeText,
		Timestamp: now,
		Type:      store.MessageTypeWelcome,
	}
}

// describeFailure turns an answering error into the banner text and reports
// whether the failure means the service is unreachable.
func describeFailure(err error) (string, bool) {
	switch answerer.Classify(err) {
	case answerer.KindConnectivity:
		return errorPrefix + errorConnectivity, true
	case answerer.KindRateLimit:
		return errorPrefix + errorRateLimit, false
	case answerer.KindAuthConfig:
		return errorPrefix + errorAuthConfig, false
	}

	var aerr *answerer.Error
	if errors.As(err, &aerr) && aerr.Message != "" {
		return errorPrefix + aerr.Message, false
	}
	return errorPrefix + err.Error(), false
}

func errorBotText(explanation string) string {
	return "❌ " + explanation + errorSuffix
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func transcriptTitle(firstUserMessage string) string {
	return truncate(firstUserMessage, titleMaxRunes)
}

func lastMessagePreview(text string) string {
	return truncate(text, lastMessageMaxRunes)
}
