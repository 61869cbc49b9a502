// Package tracing mirrors the teacher's metrics/tracing helper used
// throughout chain/syncer.go's defer tracing.AddErrorEndSpan(...) calls.
package tracing

import (
	"context"

	"go.opencensus.io/trace"
)

// AddErrorEndSpan records *err (if non-nil) onto span as a status and
// attribute before ending it. Intended to be deferred immediately after
// trace.StartSpan, with errp pointing at the named error return value.
func AddErrorEndSpan(ctx context.Context, span *trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.SetStatus(trace.Status{Code: int32(trace.StatusCodeUnknown), Message: (*errp).Error()})
		span.AddAttributes(trace.StringAttribute("error", (*errp).Error()))
	}
	span.End()
}
