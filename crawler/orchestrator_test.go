package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/challenge"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/ledger"
	"github.com/use-agent/harvest/metrics"
	"github.com/use-agent/harvest/policy"
	"github.com/use-agent/harvest/retry"
	"github.com/use-agent/harvest/rotation"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/session/sessiontest"
)

const notFound = `<html><head><title>404 - Profile not found | PitchBook</title></head></html>`

// site serves a page per URL: "good-*" URLs render a profile, "gone-*"
// URLs the not-found page and anything else an empty shell.
func site(f *sessiontest.Fake, url string, _ session.NavigateOptions) error {
	name := url[strings.LastIndex(url, "/")+1:]
	delete(f.Elements, "h2.pp-overview__title")
	switch {
	case strings.HasPrefix(name, "good-"):
		f.Markup = fmt.Sprintf(`<html><h2 class="pp-overview__title">%s</h2></html>`, name)
		f.Elements["h2.pp-overview__title"] = true
	case strings.HasPrefix(name, "gone-"):
		f.Markup = notFound
	default:
		f.Markup = `<html><body>empty</body></html>`
	}
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	dir     string
	factory *sessiontest.Factory
	ledger  *ledger.Ledger
	orch    *Orchestrator
}

func newHarness(t *testing.T, dir string, list []string, hook func(*sessiontest.Fake, string, session.NavigateOptions) error) *harness {
	t.Helper()
	cfg := config.Load()

	seen, err := ledger.OpenFileSeenSet(filepath.Join(dir, "seen.json"))
	require.NoError(t, err)
	results, err := ledger.OpenFileResultLog(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	l := ledger.New(seen, results)
	t.Cleanup(func() { _ = l.Close() })

	if hook == nil {
		hook = site
	}
	factory := &sessiontest.Factory{Build: func(int) *sessiontest.Fake {
		f := sessiontest.New("")
		f.OnNavigate = hook
		return f
	}}

	pol := policy.Fixed{}
	detector := challenge.NewDetector(cfg.Crawl.ChallengePhrases)
	m := metrics.New(prometheus.NewRegistry())
	ctrl := retry.New(retry.ConfigFrom(cfg), retry.Deps{
		Detector: detector,
		Handler:  challenge.NewResolver(challenge.DefaultConfig(), detector, pol, noSleep),
		Ledger:   l,
		Policy:   pol,
		Sleep:    noSleep,
		Metrics:  m,
	})

	orch := New(Deps{
		RunID:     "test-run",
		Targets:   list,
		Ledger:    l,
		Factory:   factory,
		Attempter: ctrl,
		Scheduler: rotation.New(rotation.ConfigFrom(cfg), pol, noSleep),
		Metrics:   m,
	})
	return &harness{dir: dir, factory: factory, ledger: l, orch: orch}
}

func urls(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "https://pitchbook.test/profiles/" + n
	}
	return out
}

func (h *harness) results(t *testing.T) []string {
	t.Helper()
	recs, err := ledger.ReadResults(filepath.Join(h.dir, "results.json"))
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.URL)
	}
	return out
}

func (h *harness) seen(t *testing.T) []string {
	t.Helper()
	s, err := h.ledger.Seen(context.Background())
	require.NoError(t, err)
	return s
}

func TestRun_Completed(t *testing.T) {
	list := urls("good-a", "good-b", "good-c")
	h := newHarness(t, t.TempDir(), list, nil)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, st.Phase)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Successes)
	assert.Equal(t, 0, st.Rotations)
	assert.Equal(t, list, h.results(t))
	assert.ElementsMatch(t, list, h.seen(t))
	assert.Len(t, h.factory.Created, 1)
	assert.Empty(t, h.factory.Live())
	assert.Equal(t, Completed, h.orch.Snapshot().Phase)
}

func TestRun_IdempotentResume(t *testing.T) {
	dir := t.TempDir()
	list := urls("good-a", "gone-b", "good-c", "bad-d")

	first := newHarness(t, dir, list[:2], nil)
	_, err := first.orch.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.ledger.Close())

	second := newHarness(t, dir, list, nil)
	st, err := second.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	require.NoError(t, second.ledger.Close())

	third := newHarness(t, dir, list, nil)
	st, err = third.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total, "only the failed target is queued again")

	assert.Equal(t, urls("good-a", "good-c"), third.results(t))
	assert.ElementsMatch(t, urls("good-a", "gone-b", "good-c"), third.seen(t))
}

func TestRun_SeenResultConsistency(t *testing.T) {
	list := urls("good-a", "gone-b", "bad-c", "good-d", "gone-e")
	h := newHarness(t, t.TempDir(), list, nil)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Successes)
	assert.Equal(t, 2, st.Absent)
	assert.Equal(t, 1, st.Failures)

	results := h.results(t)
	for _, target := range h.seen(t) {
		hasRecord := contains(results, target)
		absent := strings.Contains(target, "/gone-")
		assert.True(t, hasRecord != absent, "target %s: record=%v absent=%v", target, hasRecord, absent)
	}
	assert.NotContains(t, h.seen(t), list[2])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestRun_FailureRotationOnce(t *testing.T) {
	list := urls("bad-1", "bad-2", "good-3", "good-4")
	h := newHarness(t, t.TempDir(), list, nil)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.FailureRotations)
	assert.Equal(t, 1, st.Rotations)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	require.Len(t, h.factory.Created, 2)

	before := h.factory.Created[0].Navigations
	assert.Len(t, before, 6, "three attempts for each failing target")
	for _, n := range before {
		assert.Contains(t, n.URL, "/bad-")
	}
	after := h.factory.Created[1].Navigations
	require.Len(t, after, 2)
	assert.Equal(t, list[2], after[0].URL)
	assert.True(t, h.factory.Created[0].Closed())
}

func TestRun_CadenceRotation(t *testing.T) {
	names := make([]string, 45)
	for i := range names {
		names[i] = fmt.Sprintf("good-%02d", i)
	}
	list := urls(names...)
	h := newHarness(t, t.TempDir(), list, nil)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, st.CadenceRotations)
	assert.Equal(t, 0, st.FailureRotations)
	require.Len(t, h.factory.Created, 3)
	assert.Len(t, h.factory.Created[0].Navigations, 21)
	assert.Equal(t, list[21], h.factory.Created[1].Navigations[0].URL)
	assert.Equal(t, list[41], h.factory.Created[2].Navigations[0].URL)
	assert.Empty(t, h.factory.Live())
}

func TestRun_FaultRotatesImmediately(t *testing.T) {
	list := urls("good-a", "crash-b", "good-c")
	hook := func(f *sessiontest.Fake, url string, opts session.NavigateOptions) error {
		if strings.HasSuffix(url, "/crash-b") {
			return sessiontest.Fault("browser gone")
		}
		return site(f, url, opts)
	}
	h := newHarness(t, t.TempDir(), list, hook)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.FaultRotations)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Len(t, h.factory.Created, 2)
	assert.Len(t, h.factory.Created[0].Navigations, 2, "a fault ends the attempt loop")
	assert.NotContains(t, h.seen(t), list[1])
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := urls("good-a", "good-b", "good-c")
	hook := func(f *sessiontest.Fake, url string, opts session.NavigateOptions) error {
		if strings.HasSuffix(url, "/good-b") {
			cancel()
			return context.Canceled
		}
		return site(f, url, opts)
	}
	h := newHarness(t, t.TempDir(), list, hook)

	st, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Interrupted, st.Phase)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, urls("good-a"), h.seen(t))
	assert.Empty(t, h.factory.Live(), "teardown runs on interrupt")
	assert.False(t, st.Finished.IsZero())
}

func TestRun_SessionCreationFails(t *testing.T) {
	h := newHarness(t, t.TempDir(), urls("good-a"), nil)
	h.factory.Err = errors.New("no chromium")

	st, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, 0, st.Processed)
	assert.Equal(t, 3, h.factory.Calls, "creation is retried before giving up")
	assert.False(t, st.Finished.IsZero())
}

func TestRun_LaunchHiccupDuringRotation(t *testing.T) {
	names := make([]string, 25)
	for i := range names {
		names[i] = fmt.Sprintf("good-%02d", i)
	}
	list := urls(names...)
	h := newHarness(t, t.TempDir(), list, nil)
	h.factory.FailCall = func(call int) error {
		if call == 1 {
			return errors.New("chromium launch hiccup")
		}
		return nil
	}

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, st.Phase)
	assert.Equal(t, 25, st.Processed)
	assert.Equal(t, 25, st.Successes)
	assert.Equal(t, 1, st.CadenceRotations)
	assert.Equal(t, 3, h.factory.Calls)
	require.Len(t, h.factory.Created, 2)
	assert.Equal(t, list[21], h.factory.Created[1].Navigations[0].URL)
	assert.ElementsMatch(t, list, h.seen(t))
}

func TestRun_LaunchOutageMidRunKeepsStepping(t *testing.T) {
	list := urls("good-a", "crash-b", "good-c", "good-d")
	hook := func(f *sessiontest.Fake, url string, opts session.NavigateOptions) error {
		if strings.HasSuffix(url, "/crash-b") {
			return sessiontest.Fault("browser gone")
		}
		return site(f, url, opts)
	}
	h := newHarness(t, t.TempDir(), list, hook)
	// Calls 1-6 fail two full creation rounds: the fault rotation after
	// crash-b and the retry before good-c.
	h.factory.FailCall = func(call int) error {
		if call >= 1 && call <= 6 {
			return errors.New("chromium unavailable")
		}
		return nil
	}

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Completed, st.Phase)
	assert.Equal(t, 4, st.Processed)
	assert.Equal(t, 2, st.Successes)
	assert.Equal(t, 2, st.Failures, "crash-b and the target without a session")
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.FaultRotations)
	assert.Equal(t, 8, h.factory.Calls)
	require.Len(t, h.factory.Created, 2)
	assert.Equal(t, list[3], h.factory.Created[1].Navigations[0].URL)
	assert.ElementsMatch(t, urls("good-a", "good-d"), h.seen(t))
	assert.Empty(t, h.factory.Live())
}

func TestRun_EmptyQueue(t *testing.T) {
	h := newHarness(t, t.TempDir(), nil, nil)

	st, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.Phase)
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, "0/0 harvested (0.0%) in 0s", RunState{}.Summary())
}

func TestRunState_Summary(t *testing.T) {
	st := RunState{Total: 8, Successes: 6, Elapsed: 1500 * time.Millisecond}
	assert.InDelta(t, 75.0, st.SuccessRate(), 0.001)
	assert.Equal(t, "6/8 harvested (75.0%) in 1.5s", st.Summary())
}

func TestSnapshot_LoadingBeforeRun(t *testing.T) {
	h := newHarness(t, t.TempDir(), urls("good-a"), nil)
	snap := h.orch.Snapshot()
	assert.Equal(t, Loading, snap.Phase)
	assert.Equal(t, "test-run", snap.RunID)
}

func TestPhase_MarshalText(t *testing.T) {
	b, err := Running.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(b))
	assert.Equal(t, "FAILED", Failed.String())
}
