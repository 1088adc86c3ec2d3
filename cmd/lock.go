package cmd

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/runlock"
)

// withRunLock runs fn while holding the state lock.
func (c *cli) withRunLock(ctx context.Context, fn func() error) error {
	cfg := c.app.Config()
	lock, err := runlock.Acquire(ctx, cfg.LockPath(os.TempDir()), cfg.Lock.Timeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			c.app.Logger().Warn("release run lock failed", zap.Error(err))
		}
	}()
	c.app.Logger().Debug("run lock acquired", zap.String("path", lock.Path()))
	return fn()
}
