package sendfile

import "strings"

// ExtensionPolicy 在扩展名被禁用时给出最终裁决，返回 true 表示放行。
type ExtensionPolicy func(ext string) bool

// ExtensionGuard 判断本地目标的扩展名是否允许通过符号链接暴露。
type ExtensionGuard struct {
	disallowed map[string]struct{}
	policy     ExtensionPolicy
}

// NewExtensionGuard 以禁用扩展名列表构造守卫，扩展名统一转小写并去掉前导点。
func NewExtensionGuard(disallowed []string, policy ExtensionPolicy) ExtensionGuard {
	set := make(map[string]struct{}, len(disallowed))
	for _, ext := range disallowed {
		normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return ExtensionGuard{disallowed: set, policy: policy}
}

// Allowed 返回 filename 是否允许下发。没有扩展名的文件永远不会命中禁用列表。
func (g ExtensionGuard) Allowed(filename string) bool {
	if len(g.disallowed) == 0 {
		return true
	}
	ext := Extension(filename)
	if ext == "" {
		return true
	}
	if _, denied := g.disallowed[strings.ToLower(ext)]; !denied {
		return true
	}
	if g.policy != nil {
		return g.policy(ext)
	}
	return false
}

// Extension 返回最后一个点之后的部分（保持原大小写），仅以点开头的文件名视为无扩展名。
func Extension(filename string) string {
	name := filename
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[idx+1:]
}
