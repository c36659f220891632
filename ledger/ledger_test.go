package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

func openFileLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	seen, err := OpenFileSeenSet(filepath.Join(dir, "seen.json"))
	require.NoError(t, err)
	results, err := OpenFileResultLog(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	l := New(seen, results)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestFileSeenSet_MissingFileIsEmpty(t *testing.T) {
	s, err := OpenFileSeenSet(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestFileSeenSet_CorruptFileMovedAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := OpenFileSeenSet(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	data, err := os.ReadFile(path + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestFileSeenSet_AddPersistsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.json")

	s, err := OpenFileSeenSet(path)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "https://a"))
	require.NoError(t, s.Add(ctx, "https://b"))
	require.NoError(t, s.Add(ctx, "https://a"))

	var onDisk []string
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, []string{"https://a", "https://b"}, onDisk)

	reopened, err := OpenFileSeenSet(path)
	require.NoError(t, err)
	ok, err := reopened.Contains(ctx, "https://b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, reopened.Len())
}

func TestFileSeenSet_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileSeenSet(filepath.Join(dir, "seen.json"))
	require.NoError(t, err)
	for _, u := range []string{"x", "y", "z"} {
		require.NoError(t, s.Add(context.Background(), u))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seen.json", entries[0].Name())
}

func TestFileSeenSet_FailedWriteNotRemembered(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileSeenSet(filepath.Join(dir, "missing-dir", "seen.json"))
	require.NoError(t, err)

	err = s.Add(context.Background(), "https://a")
	require.Error(t, err)
	ok, _ := s.Contains(context.Background(), "https://a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestLedger_RecordSuccessWritesResultThenSeen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openFileLedger(t, dir)

	rec := &models.Company{Name: "Acme", URL: "https://p/acme"}
	require.NoError(t, l.RecordSuccess(ctx, "https://p/acme", rec))

	seen, err := l.IsSeen(ctx, "https://p/acme")
	require.NoError(t, err)
	assert.True(t, seen)

	got, err := ReadResults(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme", got[0].Name)
}

func TestLedger_RecordSuccessMarksTargetNotRecordURL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openFileLedger(t, dir)

	rec := &models.Company{Name: "Acme", URL: "https://p/acme"}
	require.NoError(t, l.RecordSuccess(ctx, "https://p/acme?ref=x", rec))

	members, err := l.Seen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://p/acme?ref=x"}, members)

	got, err := ReadResults(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://p/acme", got[0].URL)
}

func TestLedger_RecordAbsentHasNoResult(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openFileLedger(t, dir)

	require.NoError(t, l.RecordAbsent(ctx, "https://p/gone"))
	seen, err := l.IsSeen(ctx, "https://p/gone")
	require.NoError(t, err)
	assert.True(t, seen)

	got, err := ReadResults(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLedger_ResultsAppendAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := openFileLedger(t, dir)
	require.NoError(t, first.RecordSuccess(ctx, "u1", &models.Company{Name: "A", URL: "u1"}))
	require.NoError(t, first.Close())

	second := openFileLedger(t, dir)
	require.NoError(t, second.RecordSuccess(ctx, "u2", &models.Company{Name: "B", URL: "u2"}))

	got, err := ReadResults(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, "B", got[1].Name)

	members, err := second.Seen(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)
}

type failingLog struct{ closed bool }

func (f *failingLog) Append(context.Context, *models.Company) error { return errors.New("disk full") }
func (f *failingLog) Close() error {
	f.closed = true
	return nil
}

func TestLedger_AppendFailureDoesNotMarkSeen(t *testing.T) {
	ctx := context.Background()
	seen, err := OpenFileSeenSet(filepath.Join(t.TempDir(), "seen.json"))
	require.NoError(t, err)
	log := &failingLog{}
	l := New(seen, log)

	err = l.RecordSuccess(ctx, "u", &models.Company{URL: "u"})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLedgerWrite, models.CodeOf(err))

	ok, err := l.IsSeen(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Close())
	assert.True(t, log.closed)
}

func TestReadResults_MissingFile(t *testing.T) {
	got, err := ReadResults(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
