package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/xsendlink/xsendlink/internal/logging"
	"github.com/xsendlink/xsendlink/internal/sendfile"
)

// LocalsHeadersSent 由自行刷出响应头的处理器（例如 hijack 连接）设置为 true，
// 此时改写引擎不会再触碰响应。
const LocalsHeadersSent = "_xsendlink_headers_sent"

// fiberResponse 把 Fiber 的响应头适配为 sendfile.PendingResponse。
type fiberResponse struct {
	c fiber.Ctx
}

func newFiberResponse(c fiber.Ctx) fiberResponse {
	return fiberResponse{c: c}
}

func (r fiberResponse) HeadersSent() bool {
	sent, _ := r.c.Locals(LocalsHeadersSent).(bool)
	return sent
}

func (r fiberResponse) List() []sendfile.Header {
	var headers []sendfile.Header
	r.c.Response().Header.VisitAll(func(key, value []byte) {
		headers = append(headers, sendfile.Header{Name: string(key), Value: string(value)})
	})
	return headers
}

func (r fiberResponse) Remove(name string) {
	r.c.Response().Header.Del(name)
}

func (r fiberResponse) Set(name, value string) {
	r.c.Set(name, value)
}

func (r fiberResponse) SetStatus(code int) {
	r.c.Status(code)
}

func logRewriteFields(c fiber.Ctx, res sendfile.Result) logrus.Fields {
	fields := logging.RewriteFields(RequestID(c), c.Method(), c.Path(), string(res.Outcome), string(res.State))
	if res.Target != "" {
		fields["target"] = res.Target
	}
	if res.Secret != "" {
		fields["secret"] = res.Secret
	}
	if res.Location != "" {
		fields["location"] = res.Location
	}
	return fields
}
