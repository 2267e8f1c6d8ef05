package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/config"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunHeadless_StreamsSnapshots(t *testing.T) {
	backend, baseURL := startMockAPI(t)
	backend.AddSite("Example", "https://example.com")

	board, err := sitewatch.New(
		sitewatch.WithBaseURL(baseURL),
		sitewatch.WithLogger(testLogger()),
		sitewatch.WithPollingInterval(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("sitewatch.New() error = %v", err)
	}
	defer board.Close()

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- runHeadless(ctx, board, &out) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := out.String()
		if strings.Count(s, `"view":"dashboard"`) >= 2 && strings.Contains(s, `"view":"app-status"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for snapshots, got:\n%s", s)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHeadless() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runHeadless did not return after cancel")
	}
	if board.OpenViews() != 0 {
		t.Errorf("OpenViews() = %d, want 0 after return", board.OpenViews())
	}

	lastSeq := map[sitewatch.ViewKind]uint64{}
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var ev headlessEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line is not JSON: %v\n%s", err, scanner.Text())
		}
		if ev.Snapshot.Seq <= lastSeq[ev.View] {
			t.Errorf("%s seq %d not increasing (last %d)", ev.View, ev.Snapshot.Seq, lastSeq[ev.View])
		}
		lastSeq[ev.View] = ev.Snapshot.Seq

		switch ev.View {
		case sitewatch.ViewDashboard:
			if len(ev.Snapshot.Sites) != 1 || ev.Snapshot.Stats == nil {
				t.Errorf("dashboard snapshot = %+v", ev.Snapshot)
			}
		case sitewatch.ViewAppStatus:
			if ev.Snapshot.Monitor == nil || !ev.Snapshot.Monitor.Running {
				t.Errorf("app-status snapshot = %+v", ev.Snapshot)
			}
		default:
			t.Errorf("unexpected view %q", ev.View)
		}
	}
}

func TestWatchLogOutput(t *testing.T) {
	var stderr bytes.Buffer

	w, closeLog, err := watchLogOutput(config.Default(), false, &stderr)
	if err != nil {
		t.Fatalf("watchLogOutput() error = %v", err)
	}
	closeLog()
	if w != &stderr {
		t.Error("headless logs should go to stderr")
	}

	w, closeLog, err = watchLogOutput(config.Default(), true, &stderr)
	if err != nil {
		t.Fatalf("watchLogOutput() error = %v", err)
	}
	closeLog()
	if w != io.Discard {
		t.Error("interactive logs without log_file should be discarded")
	}

	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "ui.log")
	w, closeLog, err = watchLogOutput(cfg, true, &stderr)
	if err != nil {
		t.Fatalf("watchLogOutput() error = %v", err)
	}
	newLogger(w, 0).Info("hello")
	closeLog()

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestWatchLogOutput_BadPath(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "missing", "dir", "ui.log")
	if _, _, err := watchLogOutput(cfg, true, io.Discard); err == nil {
		t.Fatal("expected error for unwritable log file")
	}
}
