package observers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphbot-platform/server/internal/agent/model"
)

func TestNodeHandlerLifecycle(t *testing.T) {
	h := newNodeHandler()
	info := &einocb.RunInfo{Name: "greet"}
	state := &model.ConversationState{Hops: 1, Visited: []string{"greet"}}

	ctx := h.OnStart(context.Background(), info, state)
	_, ok := ctx.Value(startKey{"greet"}).(time.Time)
	assert.True(t, ok)

	assert.NotPanics(t, func() {
		h.OnEnd(ctx, info, state)
		h.OnError(ctx, info, errors.New("boom"))
		h.OnEnd(ctx, info, "not a state")
	})
}

func TestNewAllCallbacks(t *testing.T) {
	require.NotNil(t, NewAllCallbacks())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))
	long := strings.Repeat("é", maxLoggedContent+10)
	out := truncate(long)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, []rune(out), maxLoggedContent+3)
}
