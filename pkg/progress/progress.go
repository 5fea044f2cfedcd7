// Package progress tracks which datasets a run has finished, so an
// interrupted run can resume without repeating completed work. State is a
// JSON array of dataset ids in a local file, rewritten atomically after
// every dataset.
package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/sparctools/metasync/pkg/errors"
)

// Ledger is the on-disk progress record of one run.
type Ledger struct {
	path string
	done []string
	seen map[string]bool
}

// Open prepares the progress ledger at path. With resume set, previously
// recorded dataset ids are loaded and reported by Done; otherwise the file
// is truncated and the run starts clean. A missing file is an empty ledger.
func Open(path string, resume bool) (*Ledger, error) {
	l := &Ledger{path: path, seen: make(map[string]bool)}

	if !resume {
		if err := l.flush(); err != nil {
			return nil, err
		}
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.WrapIO("read", path, err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.done); err != nil {
		return nil, errors.WrapIO("parse", path, err)
	}
	for _, id := range l.done {
		l.seen[id] = true
	}
	return l, nil
}

// Done reports whether a dataset was already completed.
func (l *Ledger) Done(datasetID string) bool {
	return l.seen[datasetID]
}

// MarkDone records a dataset as completed and persists the ledger before
// returning, so a crash immediately after never repeats the dataset.
func (l *Ledger) MarkDone(datasetID string) error {
	if l.seen[datasetID] {
		return nil
	}
	l.done = append(l.done, datasetID)
	l.seen[datasetID] = true
	return l.flush()
}

// Completed returns the completed dataset ids in sorted order.
func (l *Ledger) Completed() []string {
	out := append([]string(nil), l.done...)
	sort.Strings(out)
	return out
}

// flush writes the ledger via a temp file and rename, so the file on disk
// is always a complete JSON document.
func (l *Ledger) flush() error {
	data, err := json.Marshal(l.done)
	if err != nil {
		return errors.WrapIO("encode", l.path, err)
	}
	if l.done == nil {
		data = []byte("[]")
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return errors.WrapIO("create", l.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapIO("write", l.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapIO("write", l.path, err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return errors.WrapIO("write", l.path, err)
	}
	return nil
}
