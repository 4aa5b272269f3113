package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracing_ExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	tracing, err := NewTracing(&buf, "test")
	require.NoError(t, err)

	ctx, root := tracing.Tracer().Start(context.Background(), "planner.search")
	_, child := tracing.Tracer().Start(ctx, "pipeline.execute")
	child.SetAttributes(attribute.Int("metrics.tokens", 756))
	child.End()
	root.End()

	require.NoError(t, tracing.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"planner.search"`)
	assert.Contains(t, out, `"Name":"pipeline.execute"`)
	assert.Contains(t, out, "metrics.tokens")
	assert.Contains(t, out, TracerName)
}
