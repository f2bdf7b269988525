package reqctx

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	keyRID    ctxKey = "request_id"
	keyUserID ctxKey = "user_id"
)

// WithRID stores the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, keyRID, rid)
}

// RID returns correlation id if present.
func RID(ctx context.Context) string {
	v, _ := ctx.Value(keyRID).(string)
	return v
}

// WithUserID stores the authenticated user id.
func WithUserID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

// UserID returns the authenticated user id if present.
func UserID(ctx context.Context) uint64 {
	v, _ := ctx.Value(keyUserID).(uint64)
	return v
}

// Logger returns the default logger annotated with the request attributes in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if rid := RID(ctx); rid != "" {
		l = l.With("request_id", rid)
	}
	if uid := UserID(ctx); uid != 0 {
		l = l.With("user_id", uid)
	}
	return l
}
