package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// StartSpan logs the start of operation and returns a function that logs its
// end, at error level when the operation failed.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger := sink()
	if logger == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "[OBSERVABILITY] span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "[OBSERVABILITY] span end", attrs...)
	}
}

// RecordMetric logs a datapoint and adds value to the in-process total for name.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger := sink()
	if logger == nil {
		return
	}

	mu.Lock()
	current.counters[name] += value
	mu.Unlock()

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "[OBSERVABILITY] metric", attrs...)
}

// Total returns the sum of every value recorded for name since Setup.
func Total(name string) float64 {
	mu.RLock()
	defer mu.RUnlock()
	return current.counters[name]
}
