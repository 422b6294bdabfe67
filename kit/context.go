package kit

import "context"

type contextKey string

// Context keys set by the transports; endpoints only read them.
const (
	TransportKey  contextKey = "arancel_transport" // "http" or "mcp"
	RequestIDKey  contextKey = "arancel_request_id"
	RemoteAddrKey contextKey = "arancel_remote_addr"
)

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTransport records which transport carries the call.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http": the chi routes never set it.
func GetTransport(ctx context.Context) string {
	if t := value(ctx, TransportKey); t != "" {
		return t
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return value(ctx, RequestIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return value(ctx, RemoteAddrKey) }
