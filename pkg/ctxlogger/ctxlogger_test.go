package ctxlogger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := AppendCtx(context.Background(), slog.String("room_id", "r1"))
	child := AppendCtx(ctx, slog.String("participant_id", "p1"))

	logger.InfoContext(child, "joined")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "r1", line["room_id"])
	assert.Equal(t, "p1", line["participant_id"])

	buf.Reset()
	logger.InfoContext(ctx, "parent")
	var parentLine map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parentLine))
	_, ok := parentLine["participant_id"]
	assert.False(t, ok, "parent context must not see child attributes")
}
