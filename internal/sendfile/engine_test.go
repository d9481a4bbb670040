package sendfile

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/xsendlink/xsendlink/internal/linkstore"
)

var locationPattern = regexp.MustCompile(`^https://cdn\.example/links/([0-9a-f]{40})/report\.pdf$`)

func TestRewriteLocalTargetRedirects(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "https://cdn.example/links/"})
	resp := NewMemoryResponse(
		Header{Name: "X-Sendfile", Value: "/var/data/report.pdf"},
		Header{Name: "Content-Type", Value: "application/pdf"},
	)

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeRedirected || res.State != StateDone {
		t.Fatalf("期望 redirected/done，得到 %s/%s (%v)", res.Outcome, res.State, res.Err)
	}
	location, _ := resp.Get("Location")
	m := locationPattern.FindStringSubmatch(location)
	if m == nil {
		t.Fatalf("Location 不符合预期: %s", location)
	}
	if m[1] != res.Secret {
		t.Fatalf("Location 中的 secret 与结果不一致")
	}
	if _, ok := resp.Get("X-Sendfile"); ok {
		t.Fatalf("X-Sendfile 不应保留")
	}
	if ct, _ := resp.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type 应为 text/plain，得到 %s", ct)
	}
	if resp.Status != 302 {
		t.Fatalf("状态码应为 302，得到 %d", resp.Status)
	}

	dest, err := os.Readlink(filepath.Join(linkDir, res.Secret, "report.pdf"))
	if err != nil {
		t.Fatalf("符号链接应已创建: %v", err)
	}
	if dest != "/var/data/report.pdf" {
		t.Fatalf("符号链接目标错误: %s", dest)
	}
}

func TestRewriteRedirectBasenameMatchesSource(t *testing.T) {
	engine, _ := newTestEngine(t, Config{LinkDirURI: "/links/", BaseDir: "/srv/app", Platform: POSIXPaths{}})
	for i, header := range []string{"X-Sendfile", "X-Accel-Redirect", "X-Lighttpd-Sendfile"} {
		targets := []string{"/var/data/a.tar.gz", "files/b.pdf", "../c.bin"}
		target := targets[i]
		resp := NewMemoryResponse(Header{Name: header, Value: target})

		res := engine.Rewrite(context.Background(), resp)
		if res.Outcome != OutcomeRedirected {
			t.Fatalf("%s: 期望 redirected，得到 %s (%v)", header, res.Outcome, res.Err)
		}
		location, _ := resp.Get("Location")
		if path.Base(location) != path.Base(res.Target) {
			t.Fatalf("%s: Location 文件名 %s 与源文件 %s 不一致", header, location, res.Target)
		}
	}
}

func TestRewriteResolvesRelativeTargets(t *testing.T) {
	engine, _ := newTestEngine(t, Config{LinkDirURI: "/links/", BaseDir: "/srv/app", Platform: POSIXPaths{}})
	resp := NewMemoryResponse(Header{Name: "X-Accel-Redirect", Value: "protected/report.pdf"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Target != "/srv/app/protected/report.pdf" {
		t.Fatalf("相对路径应挂到 BaseDir 下，得到 %s", res.Target)
	}
}

func TestRewriteUsesDispositionFilename(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(
		Header{Name: "X-Sendfile", Value: "/var/data/7f3a.bin"},
		Header{Name: "Content-Disposition", Value: `attachment; filename="Invoice 2024.pdf"`},
	)

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeRedirected {
		t.Fatalf("期望 redirected，得到 %s (%v)", res.Outcome, res.Err)
	}
	if location, _ := resp.Get("Location"); location != "/links/"+res.Secret+"/Invoice%202024.pdf" {
		t.Fatalf("Location 应使用头部文件名: %s", location)
	}
	if _, err := os.Lstat(filepath.Join(linkDir, res.Secret, "Invoice 2024.pdf")); err != nil {
		t.Fatalf("链接名应为头部文件名: %v", err)
	}
}

func TestRewriteForbiddenExtension(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{
		LinkDirURI:           "https://cdn.example/links/",
		DisallowedExtensions: []string{"exe"},
	})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "/var/data/report.exe"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeForbidden || !errors.Is(res.Err, ErrForbiddenExtension) {
		t.Fatalf("期望 forbidden，得到 %s (%v)", res.Outcome, res.Err)
	}
	if resp.Status != 403 {
		t.Fatalf("状态码应为 403，得到 %d", resp.Status)
	}
	if _, ok := resp.Get("Location"); ok {
		t.Fatalf("403 响应不应包含 Location")
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteForbiddenChecksTargetAsWellAsFilename(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/", DisallowedExtensions: []string{"php"}})
	resp := NewMemoryResponse(
		Header{Name: "X-Sendfile", Value: "/srv/app/config.php"},
		Header{Name: "Content-Disposition", Value: "attachment; filename=config.txt"},
	)

	if res := engine.Rewrite(context.Background(), resp); res.Outcome != OutcomeForbidden {
		t.Fatalf("源文件扩展名被禁用时应拒绝，得到 %s", res.Outcome)
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteExtensionPolicyOverride(t *testing.T) {
	engine, _ := newTestEngine(t, Config{
		LinkDirURI:           "/links/",
		DisallowedExtensions: []string{"exe"},
		ExtensionPolicy:      func(ext string) bool { return ext == "exe" },
	})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "/var/data/setup.exe"})

	if res := engine.Rewrite(context.Background(), resp); res.Outcome != OutcomeRedirected {
		t.Fatalf("策略放行后应跳转，得到 %s (%v)", res.Outcome, res.Err)
	}
}

func TestRewriteExternalTarget(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{
		LinkDirURI:           "/links/",
		ExternalLinkTemplate: "/relay/%host%%path%",
		DisallowedExtensions: []string{"zip"},
	})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "https://partner.example/file.zip?sig=1"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeRedirected {
		t.Fatalf("期望 redirected，得到 %s (%v)", res.Outcome, res.Err)
	}
	if location, _ := resp.Get("Location"); location != "/relay/partner.example/file.zip" {
		t.Fatalf("外部模板替换错误: %s", location)
	}
	if res.Secret != "" {
		t.Fatalf("外部目标不应分配 secret")
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteExternalWithoutTemplateSkips(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(Header{Name: "X-Accel-Redirect", Value: "https://partner.example/file.zip"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, ErrExternalTargetUnsupported) {
		t.Fatalf("期望 skipped + ErrExternalTargetUnsupported，得到 %s (%v)", res.Outcome, res.Err)
	}
	if _, ok := resp.Get("X-Accel-Redirect"); ok {
		t.Fatalf("指令头仍应被移除")
	}
	if resp.Status != 200 {
		t.Fatalf("状态码不应改变，得到 %d", resp.Status)
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteWithoutDirectiveLeavesResponse(t *testing.T) {
	engine, _ := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(Header{Name: "Content-Type", Value: "text/html"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeSkipped || res.Err != nil {
		t.Fatalf("没有指令头时应静默跳过，得到 %s (%v)", res.Outcome, res.Err)
	}
	if ct, _ := resp.Get("Content-Type"); ct != "text/html" || resp.Status != 200 {
		t.Fatalf("响应不应被改动")
	}
}

func TestRewriteSkipsWhenHeadersSent(t *testing.T) {
	engine, _ := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "/var/data/a.pdf"})
	resp.Sent = true

	res := engine.Rewrite(context.Background(), resp)
	if !errors.Is(res.Err, ErrHeadersSent) {
		t.Fatalf("期望 ErrHeadersSent，得到 %v", res.Err)
	}
	if _, ok := resp.Get("X-Sendfile"); !ok {
		t.Fatalf("头部已刷出时不应改动")
	}
}

func TestRewriteInactiveEngine(t *testing.T) {
	native, _ := newTestEngine(t, Config{LinkDirURI: "/links/", NativeSendfile: true})
	testCases := map[string]struct {
		engine     *Engine
		keepHeader bool
	}{
		"no store": {engine: NewEngine(Config{LinkDirURI: "/links/"}, nil), keepHeader: false},
		"native":   {engine: native, keepHeader: true},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if tc.engine.Active() {
				t.Fatalf("引擎应处于停用状态")
			}
			resp := NewMemoryResponse(
				Header{Name: "X-Sendfile", Value: "/var/data/a.pdf"},
				Header{Name: "Content-Disposition", Value: `attachment; filename="a.pdf"`},
			)
			res := tc.engine.Rewrite(context.Background(), resp)
			if !errors.Is(res.Err, ErrInactive) || res.State != StateSkipped {
				t.Fatalf("期望 ErrInactive，得到 %v", res.Err)
			}
			if _, ok := resp.Get("X-Sendfile"); ok != tc.keepHeader {
				t.Fatalf("X-Sendfile 保留情况应为 %v", tc.keepHeader)
			}
			if _, ok := resp.Get("Location"); ok || resp.Status != 200 {
				t.Fatalf("停用时不应改写状态或跳转")
			}
		})
	}
}

func TestRewriteMissingPublicURIFails(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "/var/data/a.pdf"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, linkstore.ErrMissingPublicURI) {
		t.Fatalf("期望 failed + ErrMissingPublicURI，得到 %s (%v)", res.Outcome, res.Err)
	}
	if res.State != StateLinking {
		t.Fatalf("失败应停在 linking 阶段，得到 %s", res.State)
	}
	if _, ok := resp.Get("Location"); ok {
		t.Fatalf("失败时不应输出 Location")
	}
	if _, ok := resp.Get("X-Sendfile"); ok {
		t.Fatalf("失败时指令头仍应被移除")
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteRejectsTraversalFilename(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(
		Header{Name: "X-Sendfile", Value: "/var/data/a.pdf"},
		Header{Name: "Content-Disposition", Value: `attachment; filename="..%2F..%2Fetc%2Fcron.d%2Fx"`},
	)

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, linkstore.ErrUnsafeFilename) {
		t.Fatalf("期望 ErrUnsafeFilename，得到 %s (%v)", res.Outcome, res.Err)
	}
	if res.State != StateResolvingTarget {
		t.Fatalf("非法文件名应在解析阶段失败，得到 %s", res.State)
	}
	assertEmptyDir(t, linkDir)
}

func TestRewriteGuardSeesDecodedFilename(t *testing.T) {
	for _, name := range []string{`"evil%2Eexe"`, `"evil.exe%20"`, `"evil.exe "`, `evil%2EEXE`} {
		t.Run(name, func(t *testing.T) {
			engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/", DisallowedExtensions: []string{"exe"}})
			resp := NewMemoryResponse(
				Header{Name: "X-Sendfile", Value: "/var/data/payload"},
				Header{Name: "Content-Disposition", Value: "attachment; filename=" + name},
			)

			res := engine.Rewrite(context.Background(), resp)
			if res.Outcome != OutcomeForbidden || resp.Status != 403 {
				t.Fatalf("解码后为 .exe 应被禁止，得到 %s/%d", res.Outcome, resp.Status)
			}
			if _, ok := resp.Get("Location"); ok {
				t.Fatalf("403 响应不应包含 Location")
			}
			assertEmptyDir(t, linkDir)
		})
	}
}

func TestRewriteDecodesTargetBasename(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/"})
	resp := NewMemoryResponse(Header{Name: "X-Sendfile", Value: "/var/data/annual%20report.pdf"})

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeRedirected {
		t.Fatalf("期望 redirected，得到 %s (%v)", res.Outcome, res.Err)
	}
	if _, err := os.Lstat(filepath.Join(linkDir, res.Secret, "annual report.pdf")); err != nil {
		t.Fatalf("链接名应为解码后的文件名: %v", err)
	}
	if location, _ := resp.Get("Location"); location != "/links/"+res.Secret+"/annual%20report.pdf" {
		t.Fatalf("Location 不符合预期: %s", location)
	}
}

func TestRewriteDirectoryCreateFailure(t *testing.T) {
	engine, linkDir := newTestEngine(t, Config{LinkDirURI: "/links/"})
	if err := os.RemoveAll(linkDir); err != nil {
		t.Fatalf("删除链接目录失败: %v", err)
	}
	resp := NewMemoryResponse(
		Header{Name: "X-Sendfile", Value: "/var/data/a.pdf"},
		Header{Name: "Content-Disposition", Value: `attachment; filename="a.pdf"`},
	)

	res := engine.Rewrite(context.Background(), resp)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, linkstore.ErrDirectoryCreateFailed) {
		t.Fatalf("期望 failed + ErrDirectoryCreateFailed，得到 %s (%v)", res.Outcome, res.Err)
	}
	if res.State != StateLinking {
		t.Fatalf("失败应停在 linking 阶段，得到 %s", res.State)
	}
	for _, name := range []string{"X-Sendfile", "Content-Disposition", "Location"} {
		if _, ok := resp.Get(name); ok {
			t.Fatalf("创建目录失败时不应保留 %s", name)
		}
	}
	if resp.Status != 200 {
		t.Fatalf("创建目录失败时不应改写状态码，得到 %d", resp.Status)
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, string) {
	t.Helper()
	cfg.LinkDir = t.TempDir()
	store, err := linkstore.Open(cfg.StoreOptions())
	if err != nil {
		t.Fatalf("打开链接目录失败: %v", err)
	}
	return NewEngine(cfg, store), store.Root()
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("期望目录为空，实际有 %d 项", len(entries))
	}
}
