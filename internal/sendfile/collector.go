package sendfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xsendlink/xsendlink/internal/linkstore"
	"github.com/xsendlink/xsendlink/internal/logging"
)

// ErrDeleteFailed 标记单个 secret 目录回收失败，只记录日志，不中断本轮回收。
var ErrDeleteFailed = errors.New("link directory delete failed")

// Collector 回收超过过期时间的 secret 目录。
type Collector struct {
	store  linkstore.Store
	expire time.Duration
	logger *logrus.Logger
	now    func() time.Time
}

// NewCollector 构造回收器；store 为 nil 时 Collect 恒返回 0。
func NewCollector(cfg Config, store linkstore.Store, logger *logrus.Logger) *Collector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		store:  store,
		expire: cfg.Expire,
		logger: logger,
		now:    time.Now,
	}
}

// Collect 删除 ModTime 严格早于 now-expire 的目录并返回删除数量。
// 比较以整秒为单位，较新的目录保持不动，以免打断仍在进行的下载。
func (c *Collector) Collect(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}

	entries, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list link dir: %w", err)
	}

	cutoff := c.now().Truncate(time.Second).Add(-c.expire.Truncate(time.Second))
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir || !entry.ModTime.Truncate(time.Second).Before(cutoff) {
			continue
		}
		if err := c.store.Remove(ctx, entry.Secret); err != nil {
			fields := logging.SweepFields(c.store.Root(), entry.Secret)
			fields["mod_time"] = entry.ModTime
			c.logger.WithFields(fields).
				WithError(fmt.Errorf("%w: %w", ErrDeleteFailed, err)).
				Warn("link_delete_failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		fields := logging.SweepFields(c.store.Root(), "")
		fields["removed"] = removed
		c.logger.WithFields(fields).Info("link_dir_swept")
	}
	return removed, nil
}
