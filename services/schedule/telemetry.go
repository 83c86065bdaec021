package schedule

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("services/schedule")
