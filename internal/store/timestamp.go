package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var ErrUnrecognizedTimestamp = errors.New("unrecognized timestamp representation")

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp converts every timestamp shape found in stored
// transcripts into a UTC time.Time. Numbers are epoch milliseconds; maps
// carry "seconds"/"nanoseconds" pairs as written by the managed document
// store's native timestamp type.
func NormalizeTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, ErrUnrecognizedTimestamp
		}
		return t.UTC(), nil
	case bson.DateTime:
		return t.Time().UTC(), nil
	case bson.Timestamp:
		return time.Unix(int64(t.T), 0).UTC(), nil
	case int:
		return fromMillis(int64(t)), nil
	case int32:
		return fromMillis(int64(t)), nil
	case int64:
		return fromMillis(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, ErrUnrecognizedTimestamp
		}
		return fromMillis(int64(t)), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromMillis(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnrecognizedTimestamp, err)
		}
		return NormalizeTimestamp(f)
	case string:
		return parseTimestampString(t)
	case map[string]any:
		return fromSecondsMap(t)
	case bson.M:
		return fromSecondsMap(map[string]any(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return fromSecondsMap(m)
	}
	return time.Time{}, fmt.Errorf("%w: %T", ErrUnrecognizedTimestamp, v)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnrecognizedTimestamp
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromMillis(ms), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognizedTimestamp, s)
}

func fromSecondsMap(m map[string]any) (time.Time, error) {
	secs, ok := m["seconds"]
	if !ok {
		secs, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: map without seconds", ErrUnrecognizedTimestamp)
	}
	s, ok := toInt64(secs)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: seconds is %T", ErrUnrecognizedTimestamp, secs)
	}

	nanos, ok := m["nanoseconds"]
	if !ok {
		nanos = m["_nanoseconds"]
	}
	ns, _ := toInt64(nanos)
	return time.Unix(s, ns).UTC(), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// normalizeOr returns the normalized timestamp or fallback when v cannot be
// interpreted.
func normalizeOr(v any, fallback time.Time) (time.Time, bool) {
	t, err := NormalizeTimestamp(v)
	if err != nil {
		return fallback, false
	}
	return t, true
}
