package server

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xsendlink/xsendlink/internal/config"
	"github.com/xsendlink/xsendlink/internal/sendfile"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Engine     *sendfile.Engine
	Downloads  []config.DownloadConfig
	LinkRoute  string
	ListenPort int
}

const contextKeyRequestID = "_xsendlink_request_id"

var secretPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// NewApp builds a Fiber application with request-id, sendfile rewrite and
// link-directory routes attached.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("sendfile engine is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(sendfileMiddleware(opts.Engine, opts.Logger))

	if opts.LinkRoute != "" {
		linkDir := opts.Engine.Config().LinkDir
		app.Get(opts.LinkRoute+":secret/:name", serveLink(linkDir))
	}
	registerDownloads(app, opts.Downloads)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// sendfileMiddleware 在处理器链返回后、响应发送前执行一次改写。
func sendfileMiddleware(engine *sendfile.Engine, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		err := c.Next()
		resp := newFiberResponse(c)
		if err != nil {
			sendfile.Strip(resp)
			return err
		}

		res := engine.Rewrite(c.Context(), resp)
		if res.Outcome == sendfile.OutcomeRedirected || res.Outcome == sendfile.OutcomeForbidden {
			c.Response().ResetBody()
		}
		logRewrite(logger, c, res)
		return nil
	}
}

func logRewrite(logger *logrus.Logger, c fiber.Ctx, res sendfile.Result) {
	if res.Outcome == sendfile.OutcomeSkipped && res.Err == nil {
		return
	}
	if errors.Is(res.Err, sendfile.ErrInactive) {
		return
	}

	fields := logRewriteFields(c, res)
	entry := logger.WithFields(fields)
	switch res.Outcome {
	case sendfile.OutcomeFailed:
		entry.WithError(res.Err).Error("sendfile rewrite failed")
	case sendfile.OutcomeForbidden:
		entry.Warn("sendfile target forbidden")
	case sendfile.OutcomeSkipped:
		entry.WithError(res.Err).Info("sendfile rewrite skipped")
	default:
		entry.Info("sendfile redirect issued")
	}
}

// serveLink 仅允许 <secret>/<name> 形式的单层访问，真正的文件读取交给 SendFile。
func serveLink(linkDir string) fiber.Handler {
	return func(c fiber.Ctx) error {
		secret := c.Params("secret")
		name, err := url.PathUnescape(c.Params("name"))
		if err != nil || !secretPattern.MatchString(secret) || name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "link_not_found"})
		}
		return c.SendFile(filepath.Join(linkDir, secret, name))
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
