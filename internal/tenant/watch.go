package tenant

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads a tenant seed file into the store whenever it changes on
// disk, overwriting the stored configuration of every tenant it lists.
// It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("tenant file watcher error")
		case <-reload:
			s.ReloadFile(path)
		}
	}
}

// ReloadFile reads a tenant seed file and installs every tenant in it.
// Invalid tenants are logged and skipped.
func (s *Store) ReloadFile(path string) int {
	cfgs, err := config.LoadTenantsFile(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("tenant file reload failed")
		return 0
	}
	n := 0
	for _, cfg := range cfgs {
		if err := s.Put(cfg); err != nil {
			s.log.Error().Err(err).Str("tenant", cfg.TenantID).Msg("tenant rejected on reload")
			continue
		}
		n++
	}
	s.log.Info().Int("count", n).Str("path", path).Msg("tenant file reloaded")
	return n
}
