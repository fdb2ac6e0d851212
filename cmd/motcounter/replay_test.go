package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/LdDl/mot-lifecycle/storage/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func byIndex(index int) time.Time {
	return epoch.Add(time.Duration(index) * 40 * time.Millisecond)
}

func TestParseFrameLine(t *testing.T) {
	frame, dropped, err := parseFrameLine([]byte(`{"frame": 7, "timestamp": 1714000000.5, "detections": [{"bbox": [1, 2, 11, 22], "label": "head", "score": 0.8}, {"bbox": [1, 2]}]}`), 0, byIndex)
	require.NoError(t, err)
	assert.Equal(t, 7, frame.Index)
	assert.Equal(t, time.Unix(1714000000, 500000000).UTC(), frame.Timestamp)
	require.Len(t, frame.Detections, 1)
	assert.Equal(t, mot.ClassHead, frame.Detections[0].Class)
	assert.Equal(t, mot.NewRect(1, 2, 10, 20), frame.Detections[0].BBox)
	assert.Equal(t, 1, dropped)

	frame, _, err = parseFrameLine([]byte(`{"ts": "2024-03-01T10:00:00.25Z", "detections": []}`), 3, byIndex)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Index, "line index is used without 'frame'")
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 250000000, time.UTC), frame.Timestamp)

	frame, _, err = parseFrameLine([]byte(`{"frame": 25}`), 0, byIndex)
	require.NoError(t, err)
	assert.Equal(t, byIndex(25), frame.Timestamp)
	assert.Empty(t, frame.Detections)
}

func TestParseFrameLineRejects(t *testing.T) {
	for _, line := range []string{`{"frame": 1,`, `[1, 2]`, `{"ts": "yesterday"}`} {
		_, _, err := parseFrameLine([]byte(line), 0, byIndex)
		assert.Error(t, err, line)
	}
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	// Head walks right through the vertical door line, a person stands still
	for i := 0; i < 15; i++ {
		x := 205 + i*20
		fmt.Fprintf(&b, `{"frame": %d, "detections": [{"bbox": [%d, 300, %d, 340], "label": "head", "score": 0.9}, {"bbox": [500, 100, 560, 260], "label": "person", "score": 0.7}]}`+"\n", i, x, x+40)
		if i == 7 {
			b.WriteString("not json\n\n")
		}
	}
	path := filepath.Join(dir, "detections.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func writeStreamConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "stream.json")
	content := `{
		"stream_id": "replay-test",
		"fps": 25,
		"lines": [{"name": "door", "p1": [320, 0], "p2": [320, 640], "orientation": "vertical"}],
		"lifecycle": {"grace_period": "0s"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunReplayWithSQLite(t *testing.T) {
	logrus.SetLevel(logrus.PanicLevel)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "out.db")
	var out bytes.Buffer
	err := runReplay(context.Background(), replayOptions{
		ConfigPath: writeStreamConfig(t, dir),
		InputPath:  writeInput(t, dir),
		SQLitePath: dbPath,
		NoProgress: true,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Frames processed: 15")
	assert.Contains(t, out.String(), "Line door:")
	assert.Contains(t, out.String(), "created=1")

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	crossings, err := store.CountCrossings(context.Background(), "door")
	require.NoError(t, err)
	assert.Len(t, crossings, 1)

	records, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[lifecycle.Status]int{lifecycle.StatusFinalized: 1}, records)
}

func TestRunReplayMissingInput(t *testing.T) {
	err := runReplay(context.Background(), replayOptions{InputPath: filepath.Join(t.TempDir(), "absent.jsonl"), NoProgress: true}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	log := logrus.New()
	require.NoError(t, setupLogging(log, "debug", true))
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
	assert.Error(t, setupLogging(log, "chatty", false))
}
