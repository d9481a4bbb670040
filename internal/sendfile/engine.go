package sendfile

import (
	"context"
	"errors"

	"github.com/xsendlink/xsendlink/internal/linkstore"
)

// State 记录一次改写推进到的阶段。
type State string

const (
	StateIdle            State = "idle"
	StateInspecting      State = "inspecting"
	StateResolvingTarget State = "resolving_target"
	StateExternalRewrite State = "external_rewrite"
	StateLocalGuard      State = "local_guard"
	StateLinking         State = "linking"
	StateEmitting        State = "emitting"
	StateDone            State = "done"
	StateSkipped         State = "skipped"
)

// Outcome 是一次改写对响应造成的最终效果。
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeRedirected Outcome = "redirected"
	OutcomeForbidden  Outcome = "forbidden"
	OutcomeFailed     Outcome = "failed"
)

var (
	// ErrInactive 表示链接目录不可用或宿主已具备原生 sendfile。
	ErrInactive = errors.New("sendfile emulation inactive")
	// ErrHeadersSent 表示响应头已刷出。
	ErrHeadersSent = errors.New("headers already sent")
	// ErrForbiddenExtension 表示目标扩展名被禁用，响应改为 403。
	ErrForbiddenExtension = errors.New("forbidden extension")
	// ErrExternalTargetUnsupported 表示目标是外部 URL 但未配置外部链接模板。
	ErrExternalTargetUnsupported = errors.New("external target unsupported")
)

// Result 汇总一次改写的阶段、效果与产物，供宿主记录日志。
type Result struct {
	State     State
	Outcome   Outcome
	Directive Directive
	Target    string
	Location  string
	Secret    string
	Err       error
}

// Engine 是单个响应的改写入口，可被多个请求并发调用。
type Engine struct {
	cfg   Config
	store linkstore.Store
	guard ExtensionGuard
}

// NewEngine 构造改写引擎；store 为 nil 表示链接目录不可用，此时 Rewrite 只移除指令头。
func NewEngine(cfg Config, store linkstore.Store) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:   cfg,
		store: store,
		guard: NewExtensionGuard(cfg.DisallowedExtensions, cfg.ExtensionPolicy),
	}
}

// Active 返回模拟功能是否生效。
func (e *Engine) Active() bool {
	return e != nil && e.store != nil && !e.cfg.NativeSendfile
}

// Config 返回引擎持有的配置副本。
func (e *Engine) Config() Config {
	return e.cfg
}

// Rewrite 在响应头刷出前执行一次：解析指令头、分配 secret 链接并改写为跳转。
// 任何失败都只会让响应失去文件下发能力，不会向调用方抛出错误。
func (e *Engine) Rewrite(ctx context.Context, resp PendingResponse) Result {
	if !e.Active() {
		// 链接目录缺失时指令头不能外泄；原生 sendfile 模式则交由宿主处理。
		if e != nil && !e.cfg.NativeSendfile && !resp.HeadersSent() {
			Strip(resp)
		}
		return Result{State: StateSkipped, Outcome: OutcomeSkipped, Err: ErrInactive}
	}
	if resp.HeadersSent() {
		return Result{State: StateSkipped, Outcome: OutcomeSkipped, Err: ErrHeadersSent}
	}

	res := Result{State: StateInspecting}
	directive, ok := Inspect(resp)
	if !ok {
		return skipped(res, nil)
	}
	res.Directive = directive

	if directive.External {
		res.State = StateExternalRewrite
		if e.cfg.ExternalLinkTemplate == "" {
			return skipped(res, ErrExternalTargetUnsupported)
		}
		res.Target = directive.Target
		res.Location = expandExternal(e.cfg.ExternalLinkTemplate, directive.URL)
		emitRedirect(resp, res.Location)
		res.State = StateDone
		res.Outcome = OutcomeRedirected
		return res
	}

	res.State = StateResolvingTarget
	platform := e.cfg.Platform
	target := platform.Resolve(directive.Target, e.cfg.BaseDir)
	res.Target = target
	raw := directive.Filename
	if raw == "" {
		raw = platform.Base(target)
	}
	// 守卫与链接使用同一个解码后的名称。
	filename, err := linkstore.CleanFilename(raw)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	res.State = StateLocalGuard
	if !e.guard.Allowed(filename) || !e.guard.Allowed(platform.Base(target)) {
		emitForbidden(resp)
		res.State = StateDone
		res.Outcome = OutcomeForbidden
		res.Err = ErrForbiddenExtension
		return res
	}

	res.State = StateLinking
	link, err := e.store.Allocate(ctx, target, filename)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	res.Secret = link.Secret
	res.Location = link.URI

	res.State = StateEmitting
	emitRedirect(resp, link.URI)
	res.State = StateDone
	res.Outcome = OutcomeRedirected
	return res
}

func skipped(res Result, err error) Result {
	res.State = StateSkipped
	res.Outcome = OutcomeSkipped
	res.Err = err
	return res
}
