package sendfile

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/xsendlink/xsendlink/internal/linkstore"
)

// DefaultExpire 是链接目录的默认过期时间。
const DefaultExpire = time.Hour

// Config 描述 sendfile 模拟所需的全部参数，构造 Engine/Collector 时按值复制，之后不可变。
type Config struct {
	LinkDir              string
	LinkDirURI           string
	Expire               time.Duration
	Salt                 string
	DisallowedExtensions []string
	ExternalLinkTemplate string
	ExtensionPolicy      ExtensionPolicy

	// BaseDir 是相对路径目标的解析基准目录，为空时取当前工作目录。
	BaseDir string
	// Platform 为空时按 runtime.GOOS 选择。
	Platform PlatformPathStrategy
	// CreateLinkDir 为 true 时链接目录不存在会自动创建。
	CreateLinkDir bool
	// MaxSecretAttempts 限制 secret 冲突重试次数。
	MaxSecretAttempts int
	// NativeSendfile 表示宿主已具备原生 sendfile 支持，此时 Engine 主动停用。
	NativeSendfile bool
}

// StoreOptions 返回打开链接目录所需的参数。
func (c Config) StoreOptions() linkstore.Options {
	return linkstore.Options{
		Root:        c.LinkDir,
		Create:      c.CreateLinkDir,
		URIPrefix:   c.LinkDirURI,
		Salt:        c.Salt,
		MaxAttempts: c.MaxSecretAttempts,
	}
}

// withDefaults 填充平台、基准目录与过期时间。
func (c Config) withDefaults() Config {
	if c.Platform == nil {
		c.Platform = PlatformFor(runtime.GOOS)
	}
	if strings.TrimSpace(c.BaseDir) == "" {
		if wd, err := os.Getwd(); err == nil {
			c.BaseDir = wd
		}
	}
	if c.Expire < 0 {
		c.Expire = 0
	}
	return c
}
