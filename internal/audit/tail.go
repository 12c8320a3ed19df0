package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Tail emits the last n records of a JSONL audit log (all of them when n <= 0).
// With follow set it keeps watching the file and emits records as they are
// appended, until ctx is cancelled.
func Tail(ctx context.Context, path string, n int, follow bool, fn func(Record)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	var pending []byte

	var ring []Record
	err = drain(reader, &pending, func(rec Record) {
		ring = append(ring, rec)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	})
	if err != nil {
		return err
	}
	for _, rec := range ring {
		fn(rec)
	}

	if !follow {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if err := drain(reader, &pending, fn); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return fmt.Errorf("audit log %s was moved or removed", path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

// drain reads every complete line available and decodes it. A trailing
// partial line is kept in pending until the writer finishes it.
func drain(r *bufio.Reader, pending *[]byte, fn func(Record)) error {
	for {
		chunk, err := r.ReadBytes('\n')
		*pending = append(*pending, chunk...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read audit log: %w", err)
		}
		line := (*pending)[:len(*pending)-1]
		var rec Record
		if json.Unmarshal(line, &rec) == nil {
			fn(rec)
		}
		*pending = (*pending)[:0]
	}
}
