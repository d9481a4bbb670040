package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级的监听与日志参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// SendfileConfig 对应 [Sendfile] 段，决定链接目录、对外地址与回收策略。
type SendfileConfig struct {
	LinkDir              string   `mapstructure:"LinkDir"`
	LinkDirURI           string   `mapstructure:"LinkDirURI"`
	PublicBaseURL        string   `mapstructure:"PublicBaseURL"`
	LinkRoute            string   `mapstructure:"LinkRoute"`
	Expire               Duration `mapstructure:"Expire"`
	Salt                 string   `mapstructure:"Salt"`
	DisallowedExtensions []string `mapstructure:"DisallowedExtensions"`
	AllowedOverrides     []string `mapstructure:"AllowedOverrides"`
	ExternalLinkTemplate string   `mapstructure:"ExternalLinkTemplate"`
	BaseDir              string   `mapstructure:"BaseDir"`
	CreateLinkDir        bool     `mapstructure:"CreateLinkDir"`
	NativeSendfile       bool     `mapstructure:"NativeSendfile"`
	MaxSecretAttempts    int      `mapstructure:"MaxSecretAttempts"`
	GCSchedule           string   `mapstructure:"GCSchedule"`
}

// DownloadConfig 声明一条由本进程托管的下载路由，处理器只负责写入 sendfile 指令头。
type DownloadConfig struct {
	Route    string `mapstructure:"Route"`
	Path     string `mapstructure:"Path"`
	Filename string `mapstructure:"Filename"`
	Header   string `mapstructure:"Header"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Sendfile  SendfileConfig   `mapstructure:"Sendfile"`
	Downloads []DownloadConfig `mapstructure:"Download"`
}

// EffectiveLinkDirURI 返回链接目录的对外前缀：优先 LinkDirURI，否则由 PublicBaseURL + LinkRoute 拼出。
func (s SendfileConfig) EffectiveLinkDirURI() string {
	if s.LinkDirURI != "" {
		return s.LinkDirURI
	}
	if s.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.PublicBaseURL, "/") + s.LinkRoute
}

// OverrideSet 返回被显式放行的扩展名集合（小写）。
func (s SendfileConfig) OverrideSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.AllowedOverrides))
	for _, ext := range s.AllowedOverrides {
		if normalized := normalizeExtension(ext); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
