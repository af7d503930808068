package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/eliteminer/core/internal/fsutil"
	"github.com/eliteminer/core/internal/logging"
	"github.com/eliteminer/core/internal/timeutil"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultRecentErrors  = 50
	journalFilePrefix    = "Journal."
	journalFileSuffix    = ".log"
	statusSnapshotName   = "Status.json"
	cargoSnapshotName    = "Cargo.json"
	readRetryAttempts    = 3
	readRetryDelay       = 100 * time.Millisecond
)

// ErrNoJournalFiles is returned by discovery when dir contains no file
// matching the Journal.<datetime>.log naming convention.
var ErrNoJournalFiles = errors.New("journal: no journal files found")

// Reader tails a journal directory and delivers parsed events on a
// channel. It runs on its own goroutine via Run and never blocks its
// caller; it is single-threaded-cooperative with respect to the
// dispatcher that drains Events().
type Reader struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock

	dir       string
	statePath string

	pollInterval    time.Duration
	replayFromStart bool

	events chan Event
	errs   *errorRing

	currentFile string
	offset      int64

	statusModTime time.Time
	cargoModTime  time.Time
}

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithPollInterval overrides the default 500ms poll period.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) { r.pollInterval = d }
}

// WithReplayFromStart controls the first-run decision (§4.4): when true
// and no scan-state file exists yet, the reader replays every journal file
// from the beginning instead of skipping straight to the newest file's
// end. Defaults to false (skip-to-end, the "welcome dialog" behavior).
func WithReplayFromStart(replay bool) Option {
	return func(r *Reader) { r.replayFromStart = replay }
}

// WithEventBuffer sets the capacity of the channel returned by Events.
func WithEventBuffer(n int) Option {
	return func(r *Reader) { r.events = make(chan Event, n) }
}

// NewReader builds a Reader watching dir, persisting its incremental scan
// position at statePath.
func NewReader(fs fsutil.FileSystem, clock timeutil.Clock, dir, statePath string, opts ...Option) *Reader {
	r := &Reader{
		fs:           fs,
		clock:        clock,
		dir:          dir,
		statePath:    statePath,
		pollInterval: defaultPollInterval,
		events:       make(chan Event, 256),
		errs:         newErrorRing(defaultRecentErrors),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns the channel events are delivered on. Closed when Run
// returns.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// RecentErrors returns the last poll ticks' worth of non-fatal parse
// errors, oldest first, for the admin/CLI surface.
func (r *Reader) RecentErrors() []error {
	return r.errs.recent()
}

// Run initializes scan position (from the state file, or by discovering
// the newest journal file) and polls until ctx is canceled. It always
// returns a non-nil error: ctx.Err() on ordinary shutdown.
func (r *Reader) Run(ctx context.Context) error {
	defer close(r.events)

	if err := r.init(); err != nil {
		return fmt.Errorf("journal reader init failed: %w", err)
	}

	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	log := logging.WithComponent("journal")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := r.pollOnce(ctx); err != nil {
				log.WithError(err).Warn("poll tick failed")
			}
		}
	}
}

func (r *Reader) init() error {
	st, ok, err := loadScanState(r.fs, r.statePath)
	if err != nil {
		return err
	}
	if ok && r.fs.Exists(st.Filename) {
		r.currentFile = st.Filename
		r.offset = st.Offset
		return nil
	}

	newest, err := r.discoverNewest()
	if err != nil {
		if errors.Is(err, ErrNoJournalFiles) {
			// No journals yet; the first poll tick will discover one once
			// the game starts writing.
			return nil
		}
		return err
	}

	r.currentFile = newest
	if r.replayFromStart {
		r.offset = 0
		return nil
	}
	info, err := r.fs.Stat(newest)
	if err != nil {
		return fmt.Errorf("failed to stat newest journal file: %w", err)
	}
	r.offset = info.Size()
	return nil
}

// pollOnce runs a single tick: journal growth, then the two snapshot
// files. Errors from either are collected into a multierror so a failure
// in one never suppresses the other.
func (r *Reader) pollOnce(ctx context.Context) error {
	var result *multierror.Error

	if err := r.pollJournal(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.pollSnapshot(ctx, &r.statusModTime, filepath.Join(r.dir, statusSnapshotName), KindStatusSnapshot); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.pollSnapshot(ctx, &r.cargoModTime, filepath.Join(r.dir, cargoSnapshotName), KindCargoSnapshot); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (r *Reader) pollJournal(ctx context.Context) error {
	if r.currentFile == "" || !r.fs.Exists(r.currentFile) {
		return r.rediscover()
	}

	info, err := r.fs.Stat(r.currentFile)
	if err != nil {
		return r.rediscover()
	}

	// A newer file has appeared and the current one has stopped growing:
	// the game has rotated to a fresh journal on this launch. We only
	// switch once the old file is fully drained, so no tail bytes are
	// lost mid-rotation, then fall through to read whatever the new file
	// already holds in this same tick.
	if newest, derr := r.discoverNewest(); derr == nil && newest != r.currentFile && info.Size() <= r.offset {
		r.currentFile = newest
		r.offset = 0
		info, err = r.fs.Stat(r.currentFile)
		if err != nil {
			return fmt.Errorf("stat rotated journal file %s: %w", r.currentFile, err)
		}
	}

	if info.Size() < r.offset {
		// The file shrank under us (truncated or replaced); restart it.
		r.offset = 0
	}
	if info.Size() == r.offset {
		return nil
	}

	data, err := r.readWithRetry(r.currentFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", r.currentFile, err)
	}
	if int64(len(data)) <= r.offset {
		// Shrank again between Stat and ReadFile; nothing new to emit.
		return nil
	}

	suffix := data[r.offset:]
	r.offset = int64(len(data))

	var lineErrs *multierror.Error
	for _, line := range splitLines(suffix) {
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		ev, err := parseLine(line)
		if err != nil {
			r.errs.add(err)
			lineErrs = multierror.Append(lineErrs, err)
			continue
		}
		select {
		case r.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := r.persistState(); err != nil {
		lineErrs = multierror.Append(lineErrs, err)
	}

	return lineErrs.ErrorOrNil()
}

func (r *Reader) pollSnapshot(ctx context.Context, lastModTime *time.Time, path, kind string) error {
	info, err := r.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.ModTime().Equal(*lastModTime) {
		return nil
	}

	data, err := r.readWithRetry(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	*lastModTime = info.ModTime()
	select {
	case r.events <- snapshotEvent(kind, r.clock.Now(), data):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Reader) rediscover() error {
	newest, err := r.discoverNewest()
	if err != nil {
		if errors.Is(err, ErrNoJournalFiles) {
			r.currentFile = ""
			r.offset = 0
			return nil
		}
		return err
	}
	r.currentFile = newest
	r.offset = 0
	return r.persistState()
}

func (r *Reader) persistState() error {
	return saveScanState(r.fs, r.statePath, scanState{Filename: r.currentFile, Offset: r.offset})
}

// discoverNewest returns the full path of the journal file with the
// highest modification time, breaking ties by lexicographically greatest
// name (the datetime-encoded filenames sort the same way chronologically).
func (r *Reader) discoverNewest() (string, error) {
	entries, err := r.fs.ReadDir(r.dir)
	if err != nil {
		return "", fmt.Errorf("failed to list journal directory: %w", err)
	}

	var (
		best     fs.DirEntry
		bestInfo fs.FileInfo
	)
	for _, e := range entries {
		if e.IsDir() || !isJournalFileName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == nil {
			best, bestInfo = e, info
			continue
		}
		if info.ModTime().After(bestInfo.ModTime()) ||
			(info.ModTime().Equal(bestInfo.ModTime()) && e.Name() > best.Name()) {
			best, bestInfo = e, info
		}
	}
	if best == nil {
		return "", ErrNoJournalFiles
	}
	return filepath.Join(r.dir, best.Name()), nil
}

func isJournalFileName(name string) bool {
	return strings.HasPrefix(name, journalFilePrefix) && strings.HasSuffix(name, journalFileSuffix)
}

// readWithRetry reads a file's full content, retrying a bounded number of
// times on a permission error since another process (the game) may hold a
// brief exclusive lock while rewriting it.
func (r *Reader) readWithRetry(path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < readRetryAttempts; attempt++ {
		data, err := r.fs.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isPermissionError(err) {
			return nil, err
		}
		r.clock.Sleep(readRetryDelay)
	}
	return nil, lastErr
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) || errors.Is(err, fs.ErrPermission)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func bytesTrimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
