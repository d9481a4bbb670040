package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 XSENDLINK_SENDFILE_SALT。
const EnvPrefix = "XSENDLINK"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applySendfileDefaults(&cfg.Sendfile)
	for i := range cfg.Downloads {
		applyDownloadDefaults(&cfg.Downloads[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absLinkDir, err := filepath.Abs(cfg.Sendfile.LinkDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析链接目录: %w", err)
	}
	cfg.Sendfile.LinkDir = absLinkDir

	if cfg.Sendfile.BaseDir != "" {
		absBase, err := filepath.Abs(cfg.Sendfile.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("无法解析 BaseDir: %w", err)
		}
		cfg.Sendfile.BaseDir = absBase
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Sendfile.LinkDir", "./symlinks")
	v.SetDefault("Sendfile.LinkRoute", "/symlinks/")
	v.SetDefault("Sendfile.Expire", 3600)
	v.SetDefault("Sendfile.Salt", "")
	v.SetDefault("Sendfile.CreateLinkDir", true)
	v.SetDefault("Sendfile.NativeSendfile", false)
	v.SetDefault("Sendfile.MaxSecretAttempts", 16)
	v.SetDefault("Sendfile.GCSchedule", "@hourly")
}

func applySendfileDefaults(s *SendfileConfig) {
	if s.Expire.DurationValue() < 0 {
		s.Expire = Duration(0)
	}
	if route := strings.TrimSpace(s.LinkRoute); route != "" {
		if !strings.HasPrefix(route, "/") {
			route = "/" + route
		}
		if !strings.HasSuffix(route, "/") {
			route += "/"
		}
		s.LinkRoute = route
	}
	if s.LinkDirURI != "" && !strings.HasSuffix(s.LinkDirURI, "/") {
		s.LinkDirURI += "/"
	}
	for i, ext := range s.DisallowedExtensions {
		s.DisallowedExtensions[i] = normalizeExtension(ext)
	}
	if strings.TrimSpace(s.GCSchedule) == "" {
		s.GCSchedule = "@hourly"
	}
}

func applyDownloadDefaults(d *DownloadConfig) {
	if strings.TrimSpace(d.Header) == "" {
		d.Header = "X-Sendfile"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
