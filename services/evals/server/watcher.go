// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
)

// DefaultDebounce is the quiet period before a change triggers a refresh.
const DefaultDebounce = 500 * time.Millisecond

// defaultIgnore lists editor and VCS artifacts that never affect results.
var defaultIgnore = []string{".git", ".*.swp", "*.swp", "*.tmp", "*~"}

// ResultsWatcher calls a function after changes under a results directory
// settle.
//
// # Description
//
// Every directory under root is watched; directories created later are
// added as they appear (iter-N directories are usually created while a
// run is in progress). Events are collapsed into one call per quiet
// period of length debounce.
//
// # Thread Safety
//
// Safe for concurrent use. onChange runs on a single goroutine, never
// concurrently with itself.
type ResultsWatcher struct {
	root     string
	debounce time.Duration
	onChange func(paths []string)
	logger   *logging.Logger

	watcher  *fsnotify.Watcher
	events   chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// NewResultsWatcher creates a watcher. Call Start to begin.
//
// # Inputs
//
//   - root: Results directory.
//   - debounce: Quiet period. Zero or negative means DefaultDebounce.
//   - onChange: Receives the deduplicated changed paths, sorted.
//   - logger: Nil means a discarding logger.
func NewResultsWatcher(root string, debounce time.Duration, onChange func(paths []string), logger *logging.Logger) (*ResultsWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ResultsWatcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  w,
		events:   make(chan string, 1024),
		done:     make(chan struct{}),
	}, nil
}

// Start adds the directory tree and starts the event and debounce loops.
// Both loops exit on Stop or when ctx is cancelled.
func (w *ResultsWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching and waits for both loops to exit. Idempotent.
func (w *ResultsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *ResultsWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *ResultsWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range defaultIgnore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return strings.HasPrefix(base, ".")
}

func (w *ResultsWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}

			select {
			case w.events <- event.Name:
			default:
				w.logger.Warn("results watcher buffer full, dropping event", "path", event.Name)
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch new directory failed", "path", event.Name, "error", err)
					}
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("results watcher error", "error", err)
		}
	}
}

func (w *ResultsWatcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if len(pending) == 0 || w.onChange == nil {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		sort.Strings(paths)
		w.onChange(paths)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.events:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		}
	}
}
