package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
// component names the caller driving the traffic (e.g. "anthropic",
// "openai", "google", "qdrant") so spans from different LM adapters and
// storage backends don't all collapse into one generic "HTTP GET" name in
// a trace view.
func NewHTTPClient(base *http.Client, component string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return spanName(component, r)
		}),
	)
	return base
}

func spanName(component string, r *http.Request) string {
	if component == "" {
		return r.Method
	}
	return component + "." + r.Method
}
