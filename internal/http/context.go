package http

import "context"

type contextKey string

const (
	requestIDContextKey contextKey = "legjenda/request-id"
	clientContextKey    contextKey = "legjenda/client"
)

// ClientInfo describes the caller's connection as seen by the server.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// ClientFromContext returns the client metadata captured for the request.
func ClientFromContext(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	info, _ := ctx.Value(clientContextKey).(ClientInfo)
	return info
}
