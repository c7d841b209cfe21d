package tracing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&buf, "debug", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestSpanTreeLoggedOnRootEnd(t *testing.T) {
	buf := captureLogs(t)
	ctx := logger.WithRequestID(context.Background(), "req-1")

	ctx, root := Start(ctx, "search", "")
	_, child := Start(ctx, "sync-index", "")
	child.SetAttr("sources", 2)
	child.End()
	assert.Zero(t, buf.Len(), "child spans do not log on their own")

	root.End()
	root.End()

	var records []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "search", records[0]["span"])
	assert.Equal(t, "req-1", records[0]["trace_id"])
	assert.Equal(t, "sync-index", records[1]["span"])
	assert.Equal(t, "req-1", records[1]["trace_id"])
	assert.EqualValues(t, 1, records[1]["depth"])
	assert.EqualValues(t, 2, records[1]["sources"])
}

func TestExplicitTraceID(t *testing.T) {
	captureLogs(t)
	ctx, root := Start(context.Background(), "search", "q-7")
	_, child := Start(ctx, "resolve", "ignored")
	assert.Equal(t, "q-7", child.TraceID)
	assert.Same(t, root, FromContext(ctx))
	assert.Len(t, root.Children(), 1)
	assert.Zero(t, child.Duration())
}
