package build

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a watcher waits for a burst of writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher recompiles a source file whenever its contents change.
type Watcher struct {
	session  *Session
	path     string
	stage    Stage
	Debounce time.Duration

	last  FileState
	built bool
}

// NewWatcher creates a watcher for path.
func NewWatcher(s *Session, path string, stage Stage) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	return &Watcher{session: s, path: abs, stage: stage, Debounce: DefaultDebounce}, nil
}

// Run compiles the file once and again after every change, passing each
// artifact to report. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, report func(*Artifact)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	// Editors often replace the file, so the directory is watched.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	if err := w.rebuild(ctx, report); err != nil {
		return err
	}

	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			log.WithField("op", ev.Op.String()).Debug("source changed")
			fire = time.After(w.Debounce)
		case <-fire:
			fire = nil

			if err := w.rebuild(ctx, report); err != nil {
				return err
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context, report func(*Artifact)) error {
	state, err := Snapshot(w.path)
	if err != nil {
		// The file may be mid-replacement; the next event retries.
		log.WithError(err).Debug("source not readable")
		return nil
	}

	if w.built && !w.last.Changed(state) {
		log.WithField("file", w.path).Debug("contents unchanged")
		return nil
	}

	art, err := w.session.CompileFile(ctx, w.path, w.stage)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return err
	}

	w.last, w.built = state, true
	report(art)

	return nil
}
