package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepTimeout 限制单轮回收的执行时间。
const DefaultSweepTimeout = 10 * time.Minute

// Sweeper 是被定时触发的回收任务。
type Sweeper interface {
	Collect(ctx context.Context) (int, error)
}

// Manager 以 cron 表达式周期性触发链接目录回收。
type Manager struct {
	cron    *cron.Cron
	logger  *logrus.Logger
	sweeper Sweeper
	timeout time.Duration

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// NewManager 创建回收调度器，logger 为空时使用 logrus 全局实例。
func NewManager(logger *logrus.Logger, sweeper Sweeper) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		sweeper: sweeper,
		timeout: DefaultSweepTimeout,
	}
}

// Start 按 schedule（标准 5 段 cron 或 @hourly 等描述符）注册回收任务并启动调度。
func (m *Manager) Start(schedule string) error {
	if m.sweeper == nil {
		return errors.New("sweeper is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("scheduler already started")
	}

	id, err := m.cron.AddFunc(schedule, m.sweep)
	if err != nil {
		return fmt.Errorf("注册回收任务失败: %w", err)
	}
	m.entryID = id
	m.started = true
	m.cron.Start()

	m.logger.WithFields(logrus.Fields{
		"action":   "gc_schedule",
		"schedule": schedule,
		"next_run": m.cron.Entry(id).Next,
	}).Info("回收任务已注册")
	return nil
}

// Stop 注销回收任务并等待正在执行的回收结束。
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.cron.Remove(m.entryID)
	<-m.cron.Stop().Done()
	m.started = false
	m.logger.WithField("action", "gc_schedule").Info("回收任务已注销")
}

// RunOnce 立即执行一轮回收，供 CLI 与诊断接口复用。
func (m *Manager) RunOnce(ctx context.Context) (int, error) {
	if m.sweeper == nil {
		return 0, errors.New("sweeper is required")
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.sweeper.Collect(ctx)
}

func (m *Manager) sweep() {
	started := time.Now()
	removed, err := m.RunOnce(context.Background())
	fields := logrus.Fields{
		"action":      "gc_run",
		"removed":     removed,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.WithFields(fields).Error(fmt.Sprintf("回收超时（%v）", m.timeout))
			return
		}
		m.logger.WithFields(fields).WithError(err).Error("回收失败")
		return
	}
	m.logger.WithFields(fields).Debug("回收完成")
}
