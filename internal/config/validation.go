package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

var directiveHeaders = map[string]struct{}{
	"X-Sendfile":          {},
	"X-Accel-Redirect":    {},
	"X-Lighttpd-Sendfile": {},
}

const directiveHeaderList = "X-Sendfile|X-Accel-Redirect|X-Lighttpd-Sendfile"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}

	s := c.Sendfile
	if strings.TrimSpace(s.LinkDir) == "" {
		return newFieldError("Sendfile.LinkDir", "不能为空")
	}
	if s.Expire.DurationValue() < 0 {
		return newFieldError("Sendfile.Expire", "不能为负数")
	}
	if s.MaxSecretAttempts <= 0 {
		return newFieldError("Sendfile.MaxSecretAttempts", "必须大于 0")
	}
	if !strings.HasPrefix(s.LinkRoute, "/") || !strings.HasSuffix(s.LinkRoute, "/") || strings.HasPrefix(s.LinkRoute, "/-/") {
		return newFieldError("Sendfile.LinkRoute", "必须以 / 开头和结尾，且不能占用 /-/ 诊断前缀")
	}
	if s.LinkDirURI != "" {
		if err := validatePublicURI(s.LinkDirURI); err != nil {
			return newFieldError("Sendfile.LinkDirURI", err.Error())
		}
	}
	if s.PublicBaseURL != "" {
		if err := validateBaseURL(s.PublicBaseURL); err != nil {
			return newFieldError("Sendfile.PublicBaseURL", err.Error())
		}
	}
	if _, err := cron.ParseStandard(s.GCSchedule); err != nil {
		return newFieldError("Sendfile.GCSchedule", fmt.Sprintf("无法解析: %v", err))
	}

	seenRoutes := map[string]struct{}{}
	for i := range c.Downloads {
		d := &c.Downloads[i]
		if !strings.HasPrefix(d.Route, "/") {
			return newFieldError(downloadField(d.Route, "Route"), "必须以 / 开头")
		}
		if strings.HasPrefix(d.Route, "/-/") || strings.HasPrefix(d.Route, s.LinkRoute) {
			return newFieldError(downloadField(d.Route, "Route"), "与保留路由冲突")
		}
		if _, exists := seenRoutes[d.Route]; exists {
			return newFieldError(downloadField(d.Route, "Route"), "重复")
		}
		seenRoutes[d.Route] = struct{}{}

		if strings.TrimSpace(d.Path) == "" {
			return newFieldError(downloadField(d.Route, "Path"), "不能为空")
		}
		if _, ok := directiveHeaders[d.Header]; !ok {
			return newFieldError(downloadField(d.Route, "Header"), "仅支持 "+directiveHeaderList)
		}
	}

	return nil
}

// validatePublicURI 允许绝对 URL（http/https）或以 / 开头的站内路径。
func validatePublicURI(raw string) error {
	if strings.HasPrefix(raw, "/") {
		return nil
	}
	return validateBaseURL(raw)
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
