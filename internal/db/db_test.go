package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "ticks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.StartRun(ctx, t0, "sim", `{"a":1}`)
	require.NoError(t, err)
	second, err := db.StartRun(ctx, t0.Add(time.Minute), "serial", `{"a":2}`)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, first, 36)

	require.NoError(t, db.InsertTicks(ctx, []Tick{{RunID: second, Seq: 1, At: t0, State: "SAFE", Level: "SAFE"}}))
	require.NoError(t, db.FinishRun(ctx, second, t0.Add(2*time.Minute)))
	assert.ErrorIs(t, db.FinishRun(ctx, "missing", t0), ErrRunNotFound)

	runs, err := db.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "serial", runs[0].Source)
	assert.Equal(t, 1, runs[0].Ticks)
	assert.False(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, first, runs[1].ID)
	assert.True(t, runs[1].FinishedAt.IsZero())
}

func TestTicks_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	run, err := db.StartRun(ctx, t0, "sim", "{}")
	require.NoError(t, err)

	want := []Tick{
		{RunID: run, Seq: 1, At: t0, State: "SAFE", Level: "SAFE",
			DistanceMM: 2000, HasDistance: true, SpeedMPS: 1.2, HasSpeed: true, TTC: 1.67, HasTTC: true,
			Reason: "clear"},
		{RunID: run, Seq: 2, At: t0.Add(50 * time.Millisecond), State: "CORNER", Level: "MILD",
			DistanceMM: 1900, HasDistance: true,
			CornerAngleDeg: -35, CornerDistanceMM: 2500, HasCorner: true, Reason: "corner distance"},
		{RunID: run, Seq: 3, At: t0.Add(100 * time.Millisecond), State: "EMERGENCY", Level: "EMERGENCY",
			EmergencyLatched: true, Reason: "no distance"},
	}
	require.NoError(t, db.InsertTicks(ctx, want))

	got, err := db.RecentTicks(ctx, run, 10)
	require.NoError(t, err)
	for i := range got {
		got[i].At = got[i].At.UTC()
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentTicks mismatch (-want +got):\n%s", diff)
	}

	last, err := db.RecentTicks(ctx, run, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, uint64(3), last[0].Seq)

	frames, err := db.LoadReplay(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, []ReplayFrame{
		{DistanceMM: 2000, HasDistance: true, SpeedMPS: 1.2, HasSpeed: true},
		{DistanceMM: 1900, HasDistance: true},
		{},
	}, frames)
}

func TestLoadReplay_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.LoadReplay(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestInsertTicks_Empty(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.InsertTicks(context.Background(), nil))
}

func TestTickRecorder_FlushesOnStop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	run, err := db.StartRun(ctx, t0, "sim", "{}")
	require.NoError(t, err)

	rec := NewTickRecorder(db, 256)
	for i := 1; i <= 100; i++ {
		require.True(t, rec.Record(Tick{RunID: run, Seq: uint64(i), At: t0, State: "SAFE", Level: "SAFE"}))
	}

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()
	rec.Stop()
	rec.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}

	assert.Equal(t, RecorderStats{Recorded: 100}, rec.Stats())
	ticks, err := db.RecentTicks(ctx, run, 1000)
	require.NoError(t, err)
	assert.Len(t, ticks, 100)
}

func TestTickRecorder_WritesAfterContextCancelled(t *testing.T) {
	db := setupTestDB(t)
	run, err := db.StartRun(context.Background(), t0, "sim", "{}")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := NewTickRecorder(db, 8)
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	// Queued after the signal, picked up by the normal drain before Stop.
	require.True(t, rec.Record(Tick{RunID: run, Seq: 1, At: t0, State: "EMERGENCY", Level: "EMERGENCY"}))
	require.Eventually(t, func() bool { return rec.Stats().Recorded+rec.Stats().Failed == 1 }, 5*time.Second, time.Millisecond)
	require.True(t, rec.Record(Tick{RunID: run, Seq: 2, At: t0, State: "EMERGENCY", Level: "EMERGENCY"}))
	rec.Stop()
	<-done

	assert.Equal(t, RecorderStats{Recorded: 2}, rec.Stats())
	ticks, err := db.RecentTicks(context.Background(), run, 10)
	require.NoError(t, err)
	assert.Len(t, ticks, 2)
}

func TestTickRecorder_DropsWhenFull(t *testing.T) {
	rec := NewTickRecorder(nil, 2)
	assert.True(t, rec.Record(Tick{Seq: 1}))
	assert.True(t, rec.Record(Tick{Seq: 2}))
	assert.False(t, rec.Record(Tick{Seq: 3}))
	assert.Equal(t, uint64(1), rec.Stats().Dropped)
}

func TestTickRecorder_CountsFailures(t *testing.T) {
	db := setupTestDB(t)
	rec := NewTickRecorder(db, 4)
	// Unknown run id violates the foreign key.
	require.True(t, rec.Record(Tick{RunID: "ghost", Seq: 1, At: t0, State: "SAFE", Level: "SAFE"}))

	done := make(chan struct{})
	go func() {
		rec.Run(context.Background())
		close(done)
	}()
	rec.Stop()
	<-done

	assert.Equal(t, uint64(1), rec.Stats().Failed)
	assert.Equal(t, uint64(0), rec.Stats().Recorded)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.StartRun(context.Background(), t0, "sim", "{}")
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3")))
}
