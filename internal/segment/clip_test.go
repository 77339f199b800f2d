package segment

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/floorsight-data/floorsight/internal/fsutil"
)

func TestClipRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	w, err := NewClipWriter(fs, "a.clip")
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(1_700_000_000, 123000)
	if err := w.WriteFrame(t0, []byte("frame-0")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(t0.Add(100*time.Millisecond), nil); err != nil {
		t.Fatal(err)
	}
	if w.Frames() != 2 {
		t.Fatalf("frames = %d, want 2", w.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewClipReader(fs, "a.clip")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ts, payload, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Equal(t0) {
		t.Errorf("ts = %v, want %v (microsecond precision)", ts, t0)
	}
	if !bytes.Equal(payload, []byte("frame-0")) {
		t.Errorf("payload = %q", payload)
	}

	if _, payload, err = r.Next(); err != nil {
		t.Fatal(err)
	}
	if len(payload) != 0 {
		t.Errorf("second payload = %d bytes, want empty", len(payload))
	}

	if _, _, err = r.Next(); err != io.EOF {
		t.Errorf("err = %v at end, want io.EOF", err)
	}
}

func TestClipRejectsBadMagic(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	if err := fs.WriteFile("bad.clip", []byte("not a clip at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClipReader(fs, "bad.clip"); !errors.Is(err, ErrBadClip) {
		t.Errorf("err = %v, want ErrBadClip", err)
	}
}

func TestClipTruncatedRecord(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	w, err := NewClipWriter(fs, "t.clip")
	if err != nil {
		t.Fatal(err)
	}
	w.WriteFrame(time.Unix(0, 0), []byte("abcdef"))
	w.Close()

	data, _ := fs.ReadFile("t.clip")
	fs.WriteFile("t.clip", data[:len(data)-3], 0o644)

	r, err := NewClipReader(fs, "t.clip")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, _, err := r.Next(); !errors.Is(err, ErrBadClip) {
		t.Errorf("err = %v for truncated record, want ErrBadClip", err)
	}
}
