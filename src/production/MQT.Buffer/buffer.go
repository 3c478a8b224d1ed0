// Package buffer implements the on-disk queue of readings that could not be
// written to the store.
//
// The queue is a single JSON array file so an operator can read it with any
// editor. Every mutation writes a complete new file next to the old one and
// renames it into place; a reader (or a crash) only ever sees a full
// previous or next version.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	mqterrors "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Errors"
	logger "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.sensor_relay/src/production/MQT.Models"
)

// ErrBufferFull is returned by Append when MaxEntries is reached
var ErrBufferFull = errors.New("buffer: max entries reached")

// Entry is one buffered reading
type Entry struct {
	Reading    mqtmodels.Reading `json:"reading"`
	BufferedAt time.Time         `json:"buffered_at"`
	Attempts   int               `json:"attempts"`
}

// CommitFunc writes one reading to the store
type CommitFunc func(ctx context.Context, r mqtmodels.Reading) error

// DrainResult summarizes one drain pass
type DrainResult struct {
	Committed int
	Remaining int
	// StillOffline is set when the store was unreachable and the pass stopped early
	StillOffline bool
}

// Options configures a Buffer
type Options struct {
	// MaxEntries caps the queue length; 0 means unlimited
	MaxEntries int
	Logger     *logger.Logger
	Now        func() time.Time
}

// Buffer is a durable FIFO of readings.
//
// Thread-safe: Append and Drain are serialized by a single mutex, so at most
// one goroutine rewrites the file at a time.
type Buffer struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	depth   atomic.Int64
	max     int
	logger  *logger.Logger
	now     func() time.Time
}

// Open loads the buffer file at path, creating the parent directory if
// needed. A missing or empty file is an empty buffer. A file that cannot be
// decoded is moved aside to "<path>.corrupt-<unix>" and an empty buffer is
// started.
func Open(path string, opts Options) (*Buffer, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Buffer{
		path:   path,
		max:    opts.MaxEntries,
		logger: opts.Logger.WithComponent("buffer").WithField("path", path),
		now:    opts.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}

	entries, err := load(path)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, b.now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("moving corrupt buffer aside: %w", renameErr)
		}
		b.logger.Logger.Error().Err(err).Str("moved_to", aside).Msg("Buffer file was corrupt, starting empty")
		entries = nil
	}
	b.entries = entries
	b.depth.Store(int64(len(entries)))

	if len(b.entries) > 0 {
		b.logger.Logger.Info().Int("entries", len(b.entries)).Msg("Loaded buffered readings")
	}
	return b, nil
}

func load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading buffer file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Append adds r to the end of the queue and persists it before returning
func (b *Buffer) Append(r mqtmodels.Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && len(b.entries) >= b.max {
		return ErrBufferFull
	}

	next := make([]Entry, len(b.entries), len(b.entries)+1)
	copy(next, b.entries)
	next = append(next, Entry{Reading: r, BufferedAt: b.now().UTC()})

	if err := b.persist(next); err != nil {
		return err
	}
	b.entries = next
	b.depth.Store(int64(len(next)))

	b.logger.Logger.Info().Int64("sensor_id", r.SensorID).Int("depth", len(next)).Msg("Reading buffered")
	return nil
}

// Drain submits every entry, oldest first, to commit. Entries that commit are
// removed; the others stay in their original relative order with Attempts
// incremented. If the store is unavailable, or a write runs out of time, the
// pass stops and every entry not yet committed is kept. ctx is checked between entries only; the final file
// rewrite always runs to completion.
func (b *Buffer) Drain(ctx context.Context, commit CommitFunc) (DrainResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return DrainResult{}, nil
	}

	var (
		result    DrainResult
		remaining = make([]Entry, 0, len(b.entries))
	)

	i := 0
	for ; i < len(b.entries); i++ {
		if ctx.Err() != nil {
			break
		}
		e := b.entries[i]
		err := commit(ctx, e.Reading)
		if err == nil {
			result.Committed++
			continue
		}

		e.Attempts++
		remaining = append(remaining, e)
		if storeGone(err) || ctx.Err() != nil {
			result.StillOffline = storeGone(err)
			i++
			break
		}
		b.logger.Logger.Warn().Err(err).Int64("sensor_id", e.Reading.SensorID).Int("attempts", e.Attempts).Msg("Buffered reading failed again")
	}
	remaining = append(remaining, b.entries[i:]...)
	result.Remaining = len(remaining)

	if result.Committed == 0 && result.StillOffline && i == 1 {
		// short-circuit on the first entry: the queue is unchanged
		return result, nil
	}

	b.entries = remaining
	b.depth.Store(int64(len(remaining)))

	if err := b.persist(remaining); err != nil {
		// the in-memory queue already dropped the committed entries and the
		// next successful rewrite catches the file up; a crash before then
		// replays them from the old file
		b.logger.Logger.Error().
			Err(err).
			Int("may_duplicate", result.Committed).
			Msg("Failed to rewrite buffer after drain")
		return result, err
	}

	return result, nil
}

// storeGone reports whether err means the store stopped answering, as opposed
// to rejecting one record
func storeGone(err error) bool {
	return mqterrors.IsStoreUnavailable(err) || errors.Is(err, context.DeadlineExceeded)
}

// Len returns the number of buffered entries as of the last completed
// mutation. It does not wait for a drain in progress.
func (b *Buffer) Len() int {
	return int(b.depth.Load())
}

// Entries returns a copy of the buffered entries, oldest first
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// persist atomically replaces the buffer file with entries. Caller holds mu.
func (b *Buffer) persist(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding buffer: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp buffer file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing buffer data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing buffer data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp buffer file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("replacing buffer file: %w", err)
	}

	success = true
	return nil
}
