package profiles

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Watch polls PRAGMA data_version and drops the lookup cache when another
// connection or process changed the database. onChange, if set, runs after
// each purge. Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func()) {
	log := r.cfg.Logger
	version, err := dataVersion(ctx, r)
	if err != nil {
		log.Warn("profiles: initial version check failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.WatchInterval)
	defer ticker.Stop()
	log.Info("profiles: watch started", zap.Duration("interval", r.cfg.WatchInterval))

	for {
		select {
		case <-ctx.Done():
			log.Info("profiles: watch stopped")
			return
		case <-ticker.C:
			cur, err := dataVersion(ctx, r)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("profiles: version check failed", zap.Error(err))
				}
				continue
			}
			if cur == version {
				continue
			}
			log.Info("profiles: change detected, reloading",
				zap.Int64("old_version", version), zap.Int64("new_version", cur))
			version = cur
			r.cache.Purge()
			if onChange != nil {
				onChange()
			}
		}
	}
}

// dataVersion reads PRAGMA data_version, which moves whenever another
// connection commits to the same database file.
func dataVersion(ctx context.Context, r *Registry) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
