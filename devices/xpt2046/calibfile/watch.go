// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package calibfile

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a calibration file when it changes.
type Watcher struct {
	w    *fsnotify.Watcher
	wg   sync.WaitGroup
	once sync.Once
}

// Watch calls fn with the new content every time the file at path is written
// or replaced.
//
// The parent directory is watched rather than the file itself, since editors
// and Save replace the file. fn is called from a single goroutine; it
// receives the decoding error when the new content is invalid.
func Watch(path string, fn func(*File, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("calibfile: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("calibfile: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("calibfile: %w", err)
	}
	w := &Watcher{w: fw}
	w.wg.Add(1)
	go w.loop(abs, fn)
	return w, nil
}

// Close stops watching. fn is not called after Close returns.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.w.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(path string, fn func(*File, error)) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fn(Read(path))
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			fn(nil, fmt.Errorf("calibfile: %w", err))
		}
	}
}
