package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/xsendlink/xsendlink/internal/linkstore"
	"github.com/xsendlink/xsendlink/internal/sendfile"
)

// Sweeper 对应一次手动触发的过期目录回收。
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// DiagnosticsOptions 汇总诊断接口依赖的组件；Store 与 Sweeper 可为空。
type DiagnosticsOptions struct {
	Engine  *sendfile.Engine
	Store   linkstore.Store
	Sweeper Sweeper
}

// RegisterDiagnosticsRoutes 暴露 /-/sendfile 诊断接口，供 SRE 查看链接目录状态并手动触发回收。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Engine == nil {
		return
	}

	app.Get("/-/sendfile", func(c fiber.Ctx) error {
		payload := encodeStatus(opts.Engine.Active(), opts.Engine.Config())
		if opts.Store != nil {
			entries, err := opts.Store.List(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "link_dir_unreadable", "detail": err.Error()})
			}
			payload.Entries = countDirs(entries)
		}
		return c.JSON(payload)
	})

	app.Post("/-/sendfile/gc", func(c fiber.Ctx) error {
		if opts.Sweeper == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "gc_unavailable"})
		}
		removed, err := opts.Sweeper.RunOnce(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "gc_failed", "detail": err.Error(), "removed": removed})
		}
		return c.JSON(fiber.Map{"removed": removed})
	})
}

type statusPayload struct {
	Active               bool     `json:"active"`
	NativeSendfile       bool     `json:"native_sendfile"`
	LinkDir              string   `json:"link_dir"`
	LinkDirURI           string   `json:"link_dir_uri"`
	ExpireSeconds        int64    `json:"expire_seconds"`
	DisallowedExtensions []string `json:"disallowed_extensions"`
	ExternalLinkTemplate string   `json:"external_link_template,omitempty"`
	Entries              int      `json:"entries"`
}

func encodeStatus(active bool, cfg sendfile.Config) statusPayload {
	return statusPayload{
		Active:               active,
		NativeSendfile:       cfg.NativeSendfile,
		LinkDir:              cfg.LinkDir,
		LinkDirURI:           cfg.LinkDirURI,
		ExpireSeconds:        int64(cfg.Expire / time.Second),
		DisallowedExtensions: append([]string{}, cfg.DisallowedExtensions...),
		ExternalLinkTemplate: cfg.ExternalLinkTemplate,
	}
}

func countDirs(entries []linkstore.Entry) int {
	n := 0
	for _, e := range entries {
		if e.IsDir {
			n++
		}
	}
	return n
}
