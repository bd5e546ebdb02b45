package observability

import (
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// defaultTraceIDRatio is used for the ratio samplers when the argument is missing or invalid.
const defaultTraceIDRatio = 1.0

// newSampler maps OTEL_TRACES_SAMPLER / OTEL_TRACES_SAMPLER_ARG values onto a Sampler.
// Supported: always_on, always_off, traceidratio, parentbased_traceidratio,
// parentbased_always_on, parentbased_always_off. Empty or unknown => parentbased_always_on.
func newSampler(name, arg string) sdktrace.Sampler {
	switch name {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(parseTraceIDRatio(arg))
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(parseTraceIDRatio(arg)))
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

func parseTraceIDRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return defaultTraceIDRatio
	}

	return f
}
