package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client defines the minimal contract required by the repositories to interact
// with the underlying graph database. Each call runs in its own transaction.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a simplified representation of a query response.
type Result struct {
	Records []Record
}

// Single returns the only record of the result.
func (r Result) Single() (Record, bool) {
	if len(r.Records) != 1 {
		return nil, false
	}
	return r.Records[0], true
}

// Record groups key-value pairs returned from the graph engine.
type Record map[string]any

// String returns the value under key as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Int64 returns the value under key as an int64, or 0 when absent.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns the value under key as a bool.
func (r Record) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Time parses the value under key as a timestamp; nil when absent.
func (r Record) Time(key string) *time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
	}
	return nil
}

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	// MaxRetryTime bounds how long a managed transaction is retried after
	// transient errors such as deadlocks between balance updates.
	MaxRetryTime time.Duration
	// AcquireTimeout bounds the wait for a pooled connection.
	AcquireTimeout time.Duration
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// FormatTime renders t the way timestamps are stored on graph nodes.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
