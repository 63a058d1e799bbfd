package logger

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
	var (
		buf bytes.Buffer
		l   = slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("service", "skim")
		ctx = Ctx(context.Background(), slog.String("op", "forward"))
	)

	l.InfoContext(Ctx(ctx, slog.Int64("feed_id", 7)), "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "skim", rec["service"])
	assert.Equal(t, "forward", rec["op"])
	assert.EqualValues(t, 7, rec["feed_id"])
}

func TestCtxDoesNotShareAttrs(t *testing.T) {
	base := Ctx(context.Background(), slog.String("a", "1"))
	left := Ctx(base, slog.String("b", "2"))
	right := Ctx(base, slog.String("c", "3"))

	assert.Len(t, Attrs(base), 1)
	assert.Equal(t, "b", Attrs(left)[1].Key)
	assert.Equal(t, "c", Attrs(right)[1].Key)
}
