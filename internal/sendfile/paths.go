package sendfile

import (
	"path"
	"strings"
)

// PlatformPathStrategy 封装不同平台下的绝对路径约定，便于不依赖真实 OS 进行测试。
type PlatformPathStrategy interface {
	// IsAbs 判断 p 在该平台下是否已是绝对路径。
	IsAbs(p string) bool
	// Resolve 将相对路径挂到 baseDir 之下；绝对路径原样返回。
	Resolve(p, baseDir string) string
	// Base 返回路径的最后一段。
	Base(p string) string
}

// PlatformFor 按 GOOS 返回对应的路径策略。
func PlatformFor(goos string) PlatformPathStrategy {
	if goos == "windows" {
		return WindowsPaths{}
	}
	return POSIXPaths{}
}

// POSIXPaths 以前导 / 判断绝对路径。
type POSIXPaths struct{}

func (POSIXPaths) IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

func (s POSIXPaths) Resolve(p, baseDir string) string {
	if s.IsAbs(p) {
		return p
	}
	return path.Join(baseDir, p)
}

func (POSIXPaths) Base(p string) string {
	return path.Base(p)
}

// WindowsPaths 以盘符（C:）或 UNC（\\server）前缀判断绝对路径。
type WindowsPaths struct{}

func (WindowsPaths) IsAbs(p string) bool {
	if strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//") {
		return true
	}
	return len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':'
}

func (s WindowsPaths) Resolve(p, baseDir string) string {
	if s.IsAbs(p) {
		return p
	}
	// 以分隔符开头但没有盘符：补上 baseDir 所在盘符。
	if strings.HasPrefix(p, `\`) || strings.HasPrefix(p, "/") {
		if len(baseDir) >= 2 && isDriveLetter(baseDir[0]) && baseDir[1] == ':' {
			return baseDir[:2] + p
		}
		return p
	}
	return strings.TrimRight(baseDir, `\/`) + `\` + p
}

func (WindowsPaths) Base(p string) string {
	trimmed := strings.TrimRight(p, `\/`)
	if idx := strings.LastIndexAny(trimmed, `\/`); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if len(trimmed) == 2 && trimmed[1] == ':' {
		return `\`
	}
	if trimmed == "" {
		return `\`
	}
	return trimmed
}

func isDriveLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
