package config

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the mapping file whenever it changes and hands the parsed
// result to onChange. The watch is placed on the containing directory so
// editors that replace the file (write to temp, rename over) still trigger
// a reload. Parse failures are logged and the previous mapping stays in
// effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Mapping)) error {
	path = strings.TrimSpace(path)
	if path == "" || onChange == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mapping, loadErr := Load(path)
			if loadErr != nil {
				log.Printf("mapping reload skipped: %v", loadErr)
				continue
			}
			onChange(mapping)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("mapping watch error: %v", watchErr)
		}
	}
}
