package chatlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line), scanner.Text())
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestFileRecorderAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_logs.log")
	require.NoError(t, os.WriteFile(path, []byte(`{"pre":"existing"}`+"\n"), 0o644))

	rec, err := Open(path)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Record(context.Background(), Entry{Time: at, SessionID: "s1", Input: "привет", Reply: "Здравствуйте", Attempts: 1, Temperature: 0.6, MaxTokens: 2000}))
	require.NoError(t, rec.Record(context.Background(), Entry{Time: at, SessionID: "s1", Input: "", Reason: "empty_input"}))
	require.NoError(t, rec.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "existing", lines[0]["pre"])

	assert.Equal(t, "INFO", lines[1]["level"])
	assert.Equal(t, "привет", lines[1]["input"])
	assert.Equal(t, "Здравствуйте", lines[1]["reply"])
	assert.Equal(t, "2026-03-01T12:00:00.000Z", lines[1]["time"])

	assert.Equal(t, "WARN", lines[2]["level"])
	assert.Equal(t, "empty_input", lines[2]["error"])
	assert.NotContains(t, lines[2], "reply")
}

func TestFileRecorderConcurrentWritesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	rec, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rec.Record(context.Background(), Entry{SessionID: "s", Input: "ping", Reply: "pong"}))
		}()
	}
	wg.Wait()
	require.NoError(t, rec.Close())

	assert.Len(t, readLines(t, path), 40)
}

func TestFileRecorderAfterClose(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "chat.log"))
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Record(context.Background(), Entry{}), os.ErrClosed)
}
