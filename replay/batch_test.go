package replay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/awer25/pandaop/replay"
	"github.com/awer25/pandaop/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll(t *testing.T) {
	drive := toyotaDrive()
	jobs := []replay.Job{
		{Name: "full", Entries: drive, Mode: safety.ModeToyota},
		{Name: "clean", Entries: drive[:5], Mode: safety.ModeToyota},
		{Name: "silent", Entries: drive, Mode: safety.ModeSilent},
		{Name: "full-again", Entries: drive, Mode: safety.ModeToyota},
	}

	var done int32
	results, err := replay.RunAll(context.Background(), jobs, 2,
		replay.WithProgress(func() { atomic.AddInt32(&done, 1) }))
	require.NoError(t, err)
	require.Len(t, results, len(jobs))
	assert.Equal(t, int32(len(jobs)), atomic.LoadInt32(&done))

	for i, job := range jobs {
		want, err := replay.Run(job.Entries, job.Mode, job.Param)
		require.NoError(t, err)
		assert.Equal(t, job.Name, results[i].Name)
		assert.Equal(t, want, results[i].Result)
	}
	assert.False(t, results[0].Pass)
	assert.True(t, results[1].Pass)
	assert.Equal(t, 4, results[2].Blocked)
	assert.True(t, results[2].Pass)
}

func TestRunAllFails(t *testing.T) {
	jobs := []replay.Job{
		{Name: "ok", Entries: toyotaDrive(), Mode: safety.ModeToyota},
		{Name: "bad", Entries: toyotaDrive(), Mode: safety.Mode(99)},
	}
	_, err := replay.RunAll(context.Background(), jobs, 0)
	assert.ErrorIs(t, err, safety.ErrUnknownMode)
	assert.ErrorContains(t, err, "replaying bad")
}

func TestRunAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []replay.Job{{Name: "full", Entries: toyotaDrive(), Mode: safety.ModeToyota}}
	_, err := replay.RunAll(ctx, jobs, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveReport(t *testing.T) {
	r, err := replay.Run(toyotaDrive(), safety.ModeToyota, 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, replay.SaveReport(path, []replay.JobResult{{Name: "drive", Result: r}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "drive", got[0]["name"])
	assert.Equal(t, float64(2), got[0]["blocked_while_armed"])
	assert.Equal(t, false, got[0]["pass"])
}

func TestWriteSummary(t *testing.T) {
	r, err := replay.Run(toyotaDrive(), safety.ModeToyota, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, replay.WriteSummary(&buf, "drive", r))
	out := buf.String()
	assert.Contains(t, out, "drive: FAIL (mode toyota, param 0x0)")
	assert.Contains(t, out, "blocked with controls allowed: 2")
	assert.Contains(t, out, "blocked addresses: 0x123 0x2E4")
}
