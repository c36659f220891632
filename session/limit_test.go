package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/session/sessiontest"
	"golang.org/x/time/rate"
)

func TestRateLimited_NilLimiterPassesThrough(t *testing.T) {
	f := sessiontest.New("")
	assert.Same(t, f, session.RateLimited(f, nil))
	assert.Nil(t, session.NewLimiter(0))
}

func TestRateLimited_ForwardsCalls(t *testing.T) {
	f := sessiontest.New("<html></html>")
	s := session.RateLimited(f, rate.NewLimiter(rate.Inf, 1))

	require.NoError(t, s.Navigate(context.Background(), "https://a", session.NavigateOptions{}))
	require.NoError(t, s.Reload(context.Background()))
	markup, err := s.HTML(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "<html></html>", markup)
	assert.Len(t, f.Navigations, 1)
	assert.Equal(t, 1, f.Reloads)
}

func TestRateLimited_CancelledWaitSkipsNavigation(t *testing.T) {
	f := sessiontest.New("")
	lim := rate.NewLimiter(rate.Limit(0.001), 1)
	require.True(t, lim.Allow())
	s := session.RateLimited(f, lim)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Navigate(ctx, "https://a", session.NavigateOptions{})
	require.Error(t, err)
	assert.Empty(t, f.Navigations)
}
