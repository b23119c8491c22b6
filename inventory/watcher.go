// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package inventory

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/bitmark-inc/logger"
)

// Watcher - reload the inventory snapshot when its file changes
//
// the reload callback receives a fresh immutable snapshot; a file that
// fails to parse is logged and the previous snapshot stays in force
type Watcher struct {
	log     *logger.L
	path    string
	watcher *fsnotify.Watcher
	reload  func(*Data)
}

// NewWatcher - create a watcher for an inventory file
func NewWatcher(path string, reload func(*Data)) (*Watcher, error) {
	filePath, err := filepath.Abs(filepath.Clean(path))
	if nil != err {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if nil != err {
		return nil, err
	}

	// watch the directory: editors replace files rather than write
	// them in place
	err = watcher.Add(filepath.Dir(filePath))
	if nil != err {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		log:     logger.New("inventory"),
		path:    filePath,
		watcher: watcher,
		reload:  reload,
	}, nil
}

// Run - background process loop
func (w *Watcher) Run(args interface{}, shutdown <-chan struct{}) {
	log := w.log
	log.Info("starting…")

	for {
		select {
		case <-shutdown:
			w.watcher.Close()
			return

		case event := <-w.watcher.Events:
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if 0 == event.Op&(fsnotify.Write|fsnotify.Create) {
				continue
			}

			log.Infof("inventory file changed: %s", event.Name)
			data, err := LoadFile(w.path)
			if nil != err {
				log.Errorf("reload failed: %s  keeping previous snapshot", err)
				continue
			}
			log.Infof("reloaded %d items", data.Total())
			w.reload(data)

		case err := <-w.watcher.Errors:
			if nil != err {
				log.Errorf("watch error: %s", err)
			}
		}
	}
}
