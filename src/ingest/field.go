// Package ingest extracts domain fields from raw webhook payloads using ordered
// candidate path tables, one table per source.
package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Field is a named value read from the first candidate path that holds a non-empty scalar
type Field struct {
	Name  string
	Paths []string
}

// String returns the first non-empty scalar at one of f's paths
func (f Field) String(payload []byte) (string, bool) {
	for _, path := range f.Paths {
		r := gjson.GetBytes(payload, path)
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if v := strings.TrimSpace(r.String()); v != "" {
			return v, true
		}
	}
	return "", false
}

// Ptr is String as a pointer, nil when absent
func (f Field) Ptr(payload []byte) *string {
	if v, ok := f.String(payload); ok {
		return &v
	}
	return nil
}

// Time returns the first candidate that parses as a timestamp, in UTC
func (f Field) Time(payload []byte) (time.Time, bool) {
	for _, path := range f.Paths {
		r := gjson.GetBytes(payload, path)
		if !r.Exists() {
			continue
		}
		if t, ok := parseTime(r); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(r gjson.Result) (time.Time, bool) {
	if r.Type == gjson.Number {
		return fromUnix(r.Int()), r.Int() > 0
	}

	s := strings.TrimSpace(r.String())
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return fromUnix(n), true
	}
	return time.Time{}, false
}

// fromUnix accepts seconds or milliseconds
func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
