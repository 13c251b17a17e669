package logx

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupLayout is appended to the log file name when a file is rotated out.
const backupLayout = "2006-01-02T15-04-05.000000000"

type RotateOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	// MaxAgeDays of zero keeps backups regardless of age.
	MaxAgeDays int
	Compress   bool
	Now        func() time.Time
}

func (o RotateOptions) validate() error {
	switch {
	case strings.TrimSpace(o.Path) == "":
		return errors.New("log file path is empty")
	case o.MaxSizeMB <= 0:
		return errors.New("max_size_mb must be > 0")
	case o.MaxBackups <= 0:
		return errors.New("max_backups must be > 0")
	case o.MaxAgeDays < 0:
		return errors.New("max_age_days must be >= 0")
	}
	return nil
}

// RotateWriter is a log file sink that starts a new file when the current one
// would exceed MaxSizeMB or when the local day changes. It implements
// zapcore.WriteSyncer.
type RotateWriter struct {
	opts  RotateOptions
	limit int64

	mu     sync.Mutex
	file   *os.File
	size   int64
	day    string
	closed bool
}

type backup struct {
	path string
	at   time.Time
}

func NewRotateWriter(opts RotateOptions) (*RotateWriter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, err
	}
	w := &RotateWriter{opts: opts, limit: int64(opts.MaxSizeMB) << 20}
	if err := w.open(opts.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	now := w.opts.Now()
	full := w.size > 0 && w.size+int64(len(p)) > w.limit
	if full || localDay(now) != w.day {
		if err := w.rotate(now); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotateWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *RotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotateWriter) open(now time.Time) error {
	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.size, w.day = f, st.Size(), localDay(now)
	return nil
}

// rotate moves the active file aside, reopens a fresh one and prunes backups.
// The active file is reopened even when moving it aside fails.
func (w *RotateWriter) rotate(now time.Time) error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	dst := w.opts.Path + "." + now.Format(backupLayout)
	moveErr := os.Rename(w.opts.Path, dst)
	if moveErr != nil && errors.Is(moveErr, os.ErrNotExist) {
		moveErr = nil
		dst = ""
	}
	if err := w.open(now); err != nil {
		return err
	}
	if moveErr != nil {
		return moveErr
	}
	if dst != "" && w.opts.Compress {
		if err := gzipFile(dst); err != nil {
			return err
		}
	}
	w.prune(now)
	return nil
}

func (w *RotateWriter) prune(now time.Time) {
	backups := w.backups()
	var cutoff time.Time
	if w.opts.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -w.opts.MaxAgeDays)
	}
	for i, b := range backups {
		if i >= w.opts.MaxBackups || b.at.Before(cutoff) {
			_ = os.Remove(b.path)
		}
	}
}

// backups lists rotated files newest first.
func (w *RotateWriter) backups() []backup {
	dir := filepath.Dir(w.opts.Path)
	prefix := filepath.Base(w.opts.Path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []backup
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz")
		at, err := time.ParseInLocation(backupLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, backup{path: filepath.Join(dir, name), at: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.After(out[j].at) })
	return out
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp := path + ".gz.tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	zw := gzip.NewWriter(dst)
	_, copyErr := io.Copy(zw, src)
	if err = errors.Join(copyErr, zw.Close(), dst.Close()); err != nil {
		return err
	}
	if err = os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}

func localDay(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02")
}
