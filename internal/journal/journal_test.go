package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type note struct {
	Text string `json:"text"`
}

func replayTexts(t *testing.T, j *Journal) []string {
	t.Helper()
	var out []string
	err := j.Replay(func(_ uint64, payload []byte) error {
		var n note
		if err := json.Unmarshal(payload, &n); err != nil {
			return err
		}
		out = append(out, n.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return out
}

func TestAppendReplayCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuation.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	seq1, err := j.Append(note{Text: "first"})
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	seq2, err := j.Append(note{Text: "second"})
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence did not advance: seq1=%d seq2=%d", seq1, seq2)
	}
	if !j.Pending() {
		t.Fatal("Pending = false after append")
	}

	if err := j.Commit(seq1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if diff := cmp.Diff([]string{"second"}, replayTexts(t, j)); diff != "" {
		t.Fatalf("replay (-want +got):\n%s", diff)
	}

	if err := j.Commit(seq2); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if j.Pending() {
		t.Fatal("Pending = true after committing everything")
	}
}

func TestReopenKeepsUncommittedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuation.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seq, _ := j.Append(note{Text: "done"})
	if _, err := j.Append(note{Text: "todo"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Commit(seq); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = j2.Close() }()

	if diff := cmp.Diff([]string{"todo"}, replayTexts(t, j2)); diff != "" {
		t.Fatalf("replay after reopen (-want +got):\n%s", diff)
	}
	next, err := j2.Append(note{Text: "later"})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if next != 3 {
		t.Fatalf("next seq = %d, want 3", next)
	}
}

func TestOpenIgnoresPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuation.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(note{Text: "ok"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":999,"payload":`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close torn writer: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer func() { _ = j2.Close() }()

	if diff := cmp.Diff([]string{"ok"}, replayTexts(t, j2)); diff != "" {
		t.Fatalf("replay after torn write (-want +got):\n%s", diff)
	}
}

func TestAppendAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "continuation.journal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = j.Close()
	if _, err := j.Append(note{Text: "x"}); err == nil {
		t.Fatal("expected error appending to a closed journal")
	}
}
