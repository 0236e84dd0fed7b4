package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey      contextKey = "trace_id"
	DeliveryIDKey   contextKey = "delivery_id"
	EntityKeyKey    contextKey = "entity_key"
	ConnectionIDKey contextKey = "connection_id"
	ServiceNameKey  contextKey = "service_name"
)

var orderedKeys = []contextKey{TraceIDKey, DeliveryIDKey, EntityKeyKey, ConnectionIDKey, ServiceNameKey}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	return context.WithValue(ctx, DeliveryIDKey, deliveryID)
}

func WithEntityKey(ctx context.Context, entityKey string) context.Context {
	return context.WithValue(ctx, EntityKeyKey, entityKey)
}

func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connectionID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func getString(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func GetDeliveryID(ctx context.Context) string {
	return getString(ctx, DeliveryIDKey)
}

func GetEntityKey(ctx context.Context) string {
	return getString(ctx, EntityKeyKey)
}

func GetConnectionID(ctx context.Context) string {
	return getString(ctx, ConnectionIDKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, len(orderedKeys)*2)

	for _, key := range orderedKeys {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}

	return fields
}
