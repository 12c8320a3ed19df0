package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first record in a JSONL log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// lockTimeout bounds how long Append waits for another writer's lock;
// lockPoll is the retry interval.
var (
	lockTimeout = 2 * time.Second
	lockPoll    = 10 * time.Millisecond
)

var errLockTimeout = errors.New("audit log locked by another writer")

// tailChunk is how far back Append reads at a time when it has to find the
// last line of a file another process extended.
const tailChunk = 4096

// Log appends records to a hash-chained JSONL file. Hook processes each open
// their own Log on the same path, so every Append takes an exclusive file
// lock and re-reads the tail when the file grew behind its back.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File

	// head is the hash of the last line as of size bytes.
	head string
	size int64
}

var _ Sink = (*Log)(nil)

// Open creates path (and its directory) if needed and positions the chain
// after the last line already in the file.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	l := &Log{path: path, file: f, size: -1}
	if err := l.sync(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Append stamps rec with the current time (when unset) and the hash of the
// previous line, then writes and fsyncs it.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := lockFile(l.file); err != nil {
		return fmt.Errorf("audit: lock: %w", err)
	}
	defer unlockFile(l.file)

	if err := l.sync(); err != nil {
		return err
	}

	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	rec.PrevHash = l.head
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	n, err := l.file.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.head = HashLine(line)
	l.size += int64(n)
	return nil
}

// Close releases the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// sync refreshes head when the file size differs from the last one seen.
func (l *Log) sync() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("audit: stat %s: %w", l.path, err)
	}
	if info.Size() == l.size {
		return nil
	}
	last, err := lastLine(l.file, info.Size())
	if err != nil {
		return fmt.Errorf("audit: read tail of %s: %w", l.path, err)
	}
	l.head = GenesisHash
	if len(last) > 0 {
		l.head = HashLine(last)
	}
	l.size = info.Size()
	return nil
}

// lastLine returns the last non-empty line of the first size bytes of f,
// reading backwards so long logs are not rescanned.
func lastLine(f io.ReaderAt, size int64) ([]byte, error) {
	var buf []byte
	end := size
	for end > 0 {
		start := max(end-tailChunk, 0)
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = append(chunk, buf...)
		end = start

		trimmed := bytes.TrimRight(buf, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return trimmed[i+1:], nil
		}
		if int64(len(buf)) > maxLineSize {
			return nil, fmt.Errorf("last line exceeds %d bytes", maxLineSize)
		}
	}
	return bytes.TrimRight(buf, "\r\n"), nil
}

// HashLine returns "sha256:<hex>" of line, without its trailing newline.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}
