package risk

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WatchPolicy reloads the policy at path into engine whenever the file
// changes, until ctx is cancelled. onError receives reload failures
// without stopping the watch loop — a bad edit should not kill hot
// reload, it should just leave the previous policy active.
func WatchPolicy(ctx context.Context, path string, engine *Engine, onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("risk: create policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("risk: watch policy file %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				policy, err := LoadPolicy(path)
				if err != nil {
					if onError != nil {
						onError(fmt.Errorf("risk: reload policy: %w", err))
					}
					continue
				}
				engine.UpdatePolicy(policy)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("risk: policy watcher: %w", err))
				}
			}
		}
	}()

	return nil
}
