package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), models.ErrCodeTimeout},
		{"eof", fmt.Errorf("read: %w", io.EOF), models.ErrCodeSessionFault},
		{"closed socket", errors.New("write tcp 127.0.0.1:1: use of closed network connection"), models.ErrCodeSessionFault},
		{"target closed", errors.New("{\"code\":-32000,\"message\":\"Target closed\"}"), models.ErrCodeSessionFault},
		{"net error", errors.New("net::ERR_CONNECTION_RESET"), models.ErrCodeNavigation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := categorizeError(tt.err, "op")
			require.Error(t, got)
			assert.Equal(t, tt.code, models.CodeOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestCategorizeError_PassesThroughCancel(t *testing.T) {
	err := fmt.Errorf("navigate: %w", context.Canceled)
	got := categorizeError(err, "op")
	assert.Same(t, err, got)
	assert.Empty(t, models.CodeOf(got))

	assert.NoError(t, categorizeError(nil, "op"))
}

func TestIsFaultAndIsTimeout(t *testing.T) {
	fault := models.NewHarvestError(models.ErrCodeSessionFault, "gone", nil)
	timeout := models.NewHarvestError(models.ErrCodeTimeout, "slow", nil)

	assert.True(t, IsFault(fault))
	assert.False(t, IsFault(timeout))
	assert.True(t, IsTimeout(fmt.Errorf("attempt: %w", timeout)))
	assert.False(t, IsTimeout(errors.New("plain")))
}

func TestBlockedSet(t *testing.T) {
	blocked := blockedSet([]string{"Image", "Stylesheet", "Font", "Media", "Other", "Bogus"})
	assert.Len(t, blocked, 5)

	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia,
		proto.NetworkResourceTypeOther,
	} {
		assert.True(t, shouldBlock(blocked, rt), "%s should be blocked", rt)
	}
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeDocument,
		proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeXHR,
		proto.NetworkResourceTypeFetch,
	} {
		assert.False(t, shouldBlock(blocked, rt), "%s should pass", rt)
	}
}

func TestBlockedSet_NeverBlocksEssentials(t *testing.T) {
	blocked := blockedSet([]string{"Document", "Script", "XHR"})
	assert.Empty(t, blocked)
}

func TestWithTimeout_Default(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(opTimeout), deadline, time.Second)
}

func TestWaitUntilString(t *testing.T) {
	assert.Equal(t, "interactive", WaitInteractive.String())
	assert.Equal(t, "network-idle", WaitNetworkIdle.String())
	assert.Equal(t, proto.PageLifecycleEventNameDOMContentLoaded, lifecycleEvent(WaitInteractive))
	assert.Equal(t, proto.PageLifecycleEventNameNetworkAlmostIdle, lifecycleEvent(WaitNetworkIdle))
}

func TestOptionalOverride_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	optionalOverride("certificate error", nil)
	assert.Empty(t, buf.String())

	optionalOverride("certificate error", errors.New("Security domain not enabled"))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "certificate error override failed")
	assert.Contains(t, out, "Security domain not enabled")
}
