package steplog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failing struct{}

func (failing) Log(context.Context, Record) error { return errors.New("disk full") }

func TestJSONL_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "steps.jsonl")
	sink, err := OpenJSONL(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := NewRecorder(sink, nil, "run", "calc.py")
			rec.Emit(context.Background(), Record{Iteration: i, Component: ComponentFixer, Action: ActionFix, Status: StatusSuccess})
		}(i)
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		assert.Equal(t, "calc.py", r.Item)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Timestamp.IsZero())
		lines++
	}
	assert.Equal(t, 20, lines)
}

func TestRecorder_StampsFields(t *testing.T) {
	mem := &Memory{}
	rec := NewRecorder(mem, nil, "01RUN", "calc.py")
	rec.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec.Emit(context.Background(), Record{
		Iteration:     2,
		Component:     ComponentJudge,
		Action:        ActionDebug,
		InputSummary:  "calc_temp.py",
		OutputSummary: "1 failed",
		Status:        StatusFailure,
	})

	got := mem.Records()
	require.Len(t, got, 1)
	assert.Equal(t, "01RUN", got[0].RunID)
	assert.Equal(t, "calc.py", got[0].Item)
	assert.Equal(t, 2, got[0].Iteration)
	assert.Equal(t, "2026-01-02T03:04:05Z", got[0].Timestamp.Format(time.RFC3339))
	assert.Len(t, got[0].ID, 26)
}

func TestRecorder_SwallowsSinkErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := NewRecorder(failing{}, zap.New(core), "run", "calc.py")

	rec.Emit(context.Background(), Record{Action: ActionFix})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "step log write failed", logs.All()[0].Message)
}

func TestMulti(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	err := Multi{a, failing{}, b}.Log(context.Background(), Record{Action: ActionCodeGen})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)

	assert.NoError(t, Multi{Nop{}}.Log(context.Background(), Record{}))
}

func TestNewID_Sortable(t *testing.T) {
	first := NewID()
	time.Sleep(2 * time.Millisecond)
	second := NewID()
	assert.Less(t, first, second)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize("short", 10))
	assert.Equal(t, "abc...", Summarize("abcdef", 3))
	assert.Equal(t, "日本...", Summarize("日本語", 2))
}
