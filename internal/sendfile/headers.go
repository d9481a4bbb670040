package sendfile

import (
	"net/url"
	"regexp"
	"strings"
)

// 指令头的三种写法分别对应 Apache、nginx 与 lighttpd。
const (
	HeaderXSendfile          = "X-Sendfile"
	HeaderXAccelRedirect     = "X-Accel-Redirect"
	HeaderXLighttpdSendfile  = "X-Lighttpd-Sendfile"
	HeaderContentDisposition = "Content-Disposition"
)

// consumedHeaders 无论改写结果如何都必须从响应中移除，不能下发给客户端。
var consumedHeaders = []string{
	HeaderXSendfile,
	HeaderXAccelRedirect,
	HeaderXLighttpdSendfile,
	HeaderContentDisposition,
}

var directiveHeaders = map[string]struct{}{
	HeaderXSendfile:         {},
	HeaderXAccelRedirect:    {},
	HeaderXLighttpdSendfile: {},
}

// filenamePattern 取 filename 参数：带引号时取到下一个引号，否则取到下一个分号。
var filenamePattern = regexp.MustCompile(`(?is)filename=(?:"([^"]*)"?|([^;]*))`)

// Header 是待发送响应中的一个头部。
type Header struct {
	Name  string
	Value string
}

// PendingResponse 抽象宿主即将发送的响应，Engine 只通过它读取与改写头部。
type PendingResponse interface {
	// HeadersSent 为 true 时头部已刷出，Engine 不做任何处理。
	HeadersSent() bool
	List() []Header
	Remove(name string)
	Set(name, value string)
	SetStatus(code int)
}

// Directive 是从响应头中解析出的 sendfile 指令。
type Directive struct {
	Target   string
	Filename string
	External bool
	URL      *url.URL
}

// Inspect 扫描一次响应头，提取指令与文件名，并移除全部四个相关头部。
// 没有指令头时返回 false，调用方不得再改动响应。
func Inspect(resp PendingResponse) (Directive, bool) {
	var (
		directive Directive
		found     bool
		named     bool
	)
	for _, h := range resp.List() {
		if _, ok := directiveHeaders[h.Name]; ok {
			if !found {
				directive.Target = strings.TrimSpace(h.Value)
				found = true
			}
			continue
		}
		if h.Name == HeaderContentDisposition && !named {
			if m := filenamePattern.FindStringSubmatch(h.Value); m != nil {
				directive.Filename = m[1] + m[2]
				named = true
			}
		}
	}

	Strip(resp)

	if !found || directive.Target == "" {
		return Directive{}, false
	}
	if u, ok := parseExternal(directive.Target); ok {
		directive.External = true
		directive.URL = u
	}
	return directive, true
}

// parseExternal 判断目标是否为带 scheme 的 URL；单字母 scheme 视为 Windows 盘符。
func parseExternal(target string) (*url.URL, bool) {
	u, err := url.Parse(target)
	if err != nil || len(u.Scheme) < 2 {
		return nil, false
	}
	return u, true
}

// expandExternal 用 %host% 与 %path% 替换外部链接模板。查询串不参与替换。
func expandExternal(template string, u *url.URL) string {
	return strings.NewReplacer("%host%", u.Host, "%path%", u.Path).Replace(template)
}

func emitRedirect(resp PendingResponse, location string) {
	resp.SetStatus(302)
	resp.Set("Location", location)
	resp.Set("Content-Type", "text/plain")
	resp.Set("Cache-Control", "no-cache")
}

func emitForbidden(resp PendingResponse) {
	resp.Remove("Location")
	resp.SetStatus(403)
}

// MemoryResponse 是 PendingResponse 的内存实现，适用于没有 HTTP 管线的宿主与测试。
type MemoryResponse struct {
	Status  int
	Headers []Header
	Sent    bool
}

// NewMemoryResponse 以给定头部构造响应，状态码默认 200。
func NewMemoryResponse(headers ...Header) *MemoryResponse {
	return &MemoryResponse{Status: 200, Headers: append([]Header(nil), headers...)}
}

func (r *MemoryResponse) HeadersSent() bool { return r.Sent }

func (r *MemoryResponse) List() []Header {
	return append([]Header(nil), r.Headers...)
}

func (r *MemoryResponse) Remove(name string) {
	kept := r.Headers[:0]
	for _, h := range r.Headers {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	r.Headers = kept
}

func (r *MemoryResponse) Set(name, value string) {
	r.Remove(name)
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

func (r *MemoryResponse) SetStatus(code int) { r.Status = code }

// Get 返回第一个同名头部的值。
func (r *MemoryResponse) Get(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// Strip 只移除指令相关头部，用于处理器出错等不做改写的路径。
func Strip(resp PendingResponse) {
	for _, name := range consumedHeaders {
		resp.Remove(name)
	}
}
