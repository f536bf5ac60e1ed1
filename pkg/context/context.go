package context

import "context"

type ContextKey string

var (
	BatchIDKey  = ContextKey("X-Batch-Id")
	SourceIDKey = ContextKey("X-Source-Id")
	JobKey      = ContextKey("X-Job")
)

func SetBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

func GetBatchID(ctx context.Context) string {
	value, ok := ctx.Value(BatchIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetSourceID(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, SourceIDKey, sourceID)
}

func GetSourceID(ctx context.Context) string {
	value, ok := ctx.Value(SourceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, JobKey, job)
}

func GetJob(ctx context.Context) string {
	value, ok := ctx.Value(JobKey).(string)
	if !ok {
		return ""
	}
	return value
}

// Fields returns the identifiers carried by ctx as log fields.
func Fields(ctx context.Context) map[string]any {
	fields := map[string]any{}
	if v := GetBatchID(ctx); v != "" {
		fields["batch_id"] = v
	}
	if v := GetSourceID(ctx); v != "" {
		fields["source_id"] = v
	}
	if v := GetJob(ctx); v != "" {
		fields["job"] = v
	}
	return fields
}
