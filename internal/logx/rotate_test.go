package logx

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestWriter(t *testing.T, clock *fakeClock, opts RotateOptions) (*RotateWriter, string) {
	t.Helper()
	dir := t.TempDir()
	opts.Path = filepath.Join(dir, "unifier.log")
	opts.Now = clock.Now
	w, err := NewRotateWriter(opts)
	if err != nil {
		t.Fatalf("NewRotateWriter err=%v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, dir
}

func backupNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var out []string
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), "unifier.log.") {
			out = append(out, ent.Name())
		}
	}
	sort.Strings(out)
	return out
}

func TestRotateOptionsValidation(t *testing.T) {
	cases := []RotateOptions{
		{Path: " ", MaxSizeMB: 1, MaxBackups: 1},
		{Path: "a.log", MaxSizeMB: 0, MaxBackups: 1},
		{Path: "a.log", MaxSizeMB: 1, MaxBackups: 0},
		{Path: "a.log", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: -1},
	}
	for i, opts := range cases {
		if _, err := NewRotateWriter(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestRotateWriter_BySize(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 9, 0, 0, 5, time.Local)}
	w, dir := newTestWriter(t, clock, RotateOptions{MaxSizeMB: 1, MaxBackups: 5})

	if _, err := w.Write([]byte(strings.Repeat("x", 800<<10))); err != nil {
		t.Fatalf("first write err=%v", err)
	}
	if got := backupNames(t, dir); len(got) != 0 {
		t.Fatalf("unexpected early rotation: %v", got)
	}
	clock.now = clock.now.Add(time.Second)
	if _, err := w.Write([]byte(strings.Repeat("y", 400<<10))); err != nil {
		t.Fatalf("second write err=%v", err)
	}
	if got := backupNames(t, dir); len(got) != 1 {
		t.Fatalf("backups=%v want 1", got)
	}
	st, err := os.Stat(filepath.Join(dir, "unifier.log"))
	if err != nil {
		t.Fatalf("stat active: %v", err)
	}
	if st.Size() != 400<<10 {
		t.Fatalf("active size=%d", st.Size())
	}
}

func TestRotateWriter_ByDayAndMaxBackups(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, RotateOptions{MaxSizeMB: 50, MaxBackups: 2})

	for i := 0; i < 4; i++ {
		if _, err := fmt.Fprintf(w, "line %d\n", i); err != nil {
			t.Fatalf("write %d err=%v", i, err)
		}
		clock.now = clock.now.AddDate(0, 0, 1)
	}
	got := backupNames(t, dir)
	if len(got) != 2 {
		t.Fatalf("backups=%v want 2 newest", got)
	}
	b, err := os.ReadFile(filepath.Join(dir, "unifier.log"))
	if err != nil {
		t.Fatalf("read active: %v", err)
	}
	if string(b) != "line 3\n" {
		t.Fatalf("active=%q", b)
	}
}

func TestRotateWriter_MaxAge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, RotateOptions{MaxSizeMB: 50, MaxBackups: 30, MaxAgeDays: 2})

	for i := 0; i < 6; i++ {
		if _, err := fmt.Fprintf(w, "d%d\n", i); err != nil {
			t.Fatalf("write %d err=%v", i, err)
		}
		clock.now = clock.now.AddDate(0, 0, 1)
	}
	// One backup per day; anything stamped more than two days before the last rotation goes.
	if got := backupNames(t, dir); len(got) > 3 {
		t.Fatalf("backups=%v, old ones should be pruned", got)
	}
}

func TestRotateWriter_Compress(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)}
	w, dir := newTestWriter(t, clock, RotateOptions{MaxSizeMB: 50, MaxBackups: 3, Compress: true})

	if _, err := w.Write([]byte("first\n")); err != nil {
		t.Fatalf("write err=%v", err)
	}
	clock.now = clock.now.AddDate(0, 0, 1)
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write err=%v", err)
	}
	got := backupNames(t, dir)
	if len(got) != 1 || !strings.HasSuffix(got[0], ".gz") {
		t.Fatalf("backups=%v want one .gz", got)
	}
	f, err := os.Open(filepath.Join(dir, got[0]))
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	b, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(b) != "first\n" {
		t.Fatalf("backup content=%q", b)
	}
}

func TestRotateWriter_WriteAfterClose(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	w, _ := newTestWriter(t, clock, RotateOptions{MaxSizeMB: 1, MaxBackups: 1})
	if err := w.Close(); err != nil {
		t.Fatalf("close err=%v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close err=%v", err)
	}
}
