package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestNormalizeTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	ms := want.UnixMilli()

	tests := []struct {
		name string
		in   any
	}{
		{"time", want.In(time.FixedZone("PET", -5*3600))},
		{"pointer", &want},
		{"bson datetime", bson.NewDateTimeFromTime(want)},
		{"int64 millis", ms},
		{"int millis", int(ms)},
		{"float millis", float64(ms)},
		{"json number", json.Number("1710083045000")},
		{"rfc3339", "2024-03-10T15:04:05Z"},
		{"rfc3339 offset", "2024-03-10T10:04:05-05:00"},
		{"numeric string", "1710083045000"},
		{"seconds map", map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)}},
		{"underscore seconds map", map[string]any{"_seconds": want.Unix(), "_nanoseconds": int64(0)}},
		{"bson.D", bson.D{{Key: "seconds", Value: want.Unix()}, {Key: "nanoseconds", Value: int32(0)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimestamp(tt.in)
			require.NoError(t, err)
			require.True(t, got.Equal(want), "got %s want %s", got, want)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizeTimestamp_Rejects(t *testing.T) {
	for _, in := range []any{nil, "", "yesterday", true, map[string]any{"foo": 1}, []int{1}} {
		_, err := NormalizeTimestamp(in)
		require.Error(t, err, "input %#v", in)
		require.True(t, errors.Is(err, ErrUnrecognizedTimestamp))
	}
}

func TestNormalizeOr_Fallback(t *testing.T) {
	fallback := time.Unix(100, 0).UTC()
	got, ok := normalizeOr("garbage", fallback)
	require.False(t, ok)
	require.Equal(t, fallback, got)
}

func TestTranscriptID(t *testing.T) {
	at := time.UnixMilli(1710083045123)
	require.Equal(t, "user-1_1710083045123", TranscriptID("user-1", at))
}
