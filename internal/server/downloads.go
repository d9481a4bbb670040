package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/xsendlink/xsendlink/internal/config"
	"github.com/xsendlink/xsendlink/internal/sendfile"
)

// registerDownloads 为每条下载配置挂载一个处理器，处理器只写指令头，
// 实际跳转由 sendfileMiddleware 在响应发送前完成。
func registerDownloads(app *fiber.App, downloads []config.DownloadConfig) {
	for _, d := range downloads {
		download := d
		app.Get(download.Route, func(c fiber.Ctx) error {
			c.Set(download.Header, download.Path)
			if download.Filename != "" {
				c.Set(sendfile.HeaderContentDisposition, `attachment; filename="`+download.Filename+`"`)
			}
			return c.SendStatus(fiber.StatusOK)
		})
	}
}
