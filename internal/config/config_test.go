package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ANSWER_API_URL", "http://localhost:5000/api/chat/")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, StoreSQLite, cfg.StoreDriver)
	require.Equal(t, AnswerBackendHTTP, cfg.AnswerBackend)
	require.Equal(t, "http://localhost:5000/api/chat", cfg.AnswerAPIURL, "trailing slash is trimmed")
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	require.Equal(t, 10, cfg.AuthRateLimit)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("MESSAGE_RATE_LIMIT", "5")
	t.Setenv("STORE_DRIVER", "MONGO")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, cfg.TokenTTL)
	require.Equal(t, 5, cfg.MessageRateLimit)
	require.Equal(t, StoreMongo, cfg.StoreDriver)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": "", "ANSWER_API_URL": "http://x"}},
		{"missing answer url", map[string]string{"JWT_SECRET": "s", "ANSWER_API_URL": ""}},
		{"mongo without uri", map[string]string{"JWT_SECRET": "s", "ANSWER_API_URL": "http://x", "STORE_DRIVER": "mongo", "MONGODB_URI": ""}},
		{"gemini without key", map[string]string{"JWT_SECRET": "s", "ANSWER_BACKEND": "gemini", "GEMINI_API_KEY": ""}},
		{"unknown driver", map[string]string{"JWT_SECRET": "s", "ANSWER_API_URL": "http://x", "STORE_DRIVER": "postgres"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
