package retrieval

import (
	"context"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Degraded wraps a retriever so that failures never propagate: any error
// is logged, counted, and converted into an empty example set.
type Degraded struct {
	inner  core.Retriever
	logger core.Logger
}

// NewDegraded wraps inner. A nil logger selects the no-op logger.
func NewDegraded(inner core.Retriever, logger core.Logger) *Degraded {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Degraded{inner: inner, logger: logger}
}

// Retrieve never returns an error. When the inner store fails or is
// absent, the result is an empty slice and the outage counter moves.
func (d *Degraded) Retrieve(ctx context.Context, query string, taskType core.TaskType, limit int) ([]string, error) {
	if d.inner == nil {
		telemetry.Counter(telemetry.MetricRetrievalDown)
		return nil, nil
	}
	examples, err := d.inner.Retrieve(ctx, query, taskType, limit)
	if err != nil {
		telemetry.Counter(telemetry.MetricRetrievalDown)
		d.logger.Warn("Retrieval unavailable, continuing without examples", map[string]interface{}{
			"operation": "retrieve",
			"task_type": string(taskType),
			"error":     err.Error(),
		})
		return nil, nil
	}
	return examples, nil
}
