package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// untracedPrefixes are probe and tooling paths that would otherwise dominate
// the trace volume.
var untracedPrefixes = []string{"/health", "/metrics", "/swagger"}

// GinMiddleware starts a server span per request, skipping probe paths.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(shouldTrace))
}

func shouldTrace(r *http.Request) bool {
	for _, prefix := range untracedPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}
