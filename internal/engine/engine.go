// Package engine 定义执行器依赖的浏览器能力，以及引擎进程的复用方式。
//
// 具体驱动（如 internal/cdp）实现 Launcher/Browser/Context/Page/Locator，
// 执行器和编排只依赖这里的接口。
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/emulation"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

var (
	// ErrUnsupportedKind 驱动无法启动该类型引擎
	ErrUnsupportedKind = errors.New("engine: unsupported browser kind")
	// ErrClosed 引擎或上下文已关闭
	ErrClosed = errors.New("engine: closed")
	// ErrNotFound 元素或 frame 不存在
	ErrNotFound = errors.New("engine: element not found")
)

// Launcher 启动某一类型的引擎进程
type Launcher interface {
	Launch(ctx context.Context, kind domain.BrowserKind) (Browser, error)
}

// Browser 已启动的引擎进程
type Browser interface {
	Kind() domain.BrowserKind
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// ContextOptions 浏览上下文选项
type ContextOptions struct {
	Emulation *emulation.Descriptor
	// RecordVideoDir 非空时录屏到该目录
	RecordVideoDir string
	DefaultTimeout time.Duration
}

// RequestEvent 请求发出
type RequestEvent struct {
	Request *traffic.Request
	At      time.Time
}

// ResponseEvent 响应到达
type ResponseEvent struct {
	Response       *traffic.Response
	RequestHeaders traffic.Header
	At             time.Time
}

// Overrides 继续请求时的改写，零值表示原样放行
type Overrides struct {
	URL     string
	Headers traffic.Header
}

// Route 一个被拦截的请求
type Route interface {
	Request() *traffic.Request
	Continue(ctx context.Context, o Overrides) error
}

// RouteHandler 处理被拦截的请求，必须调用一次 Continue
type RouteHandler func(ctx context.Context, r Route)

// Context 浏览上下文，关闭时落盘录屏
type Context interface {
	AddInitScript(ctx context.Context, script string) error
	Route(h RouteHandler) error
	OnRequest(fn func(RequestEvent))
	OnResponse(fn func(ResponseEvent))
	NewPage(ctx context.Context) (Page, error)
	StartTracing(ctx context.Context) error
	// StopTracing 停止追踪并写入 zip 文件
	StopTracing(ctx context.Context, path string) error
	// VideoPath 录屏文件路径，Close 之后才完整；未录屏时为空
	VideoPath() string
	Close(ctx context.Context) error
}

// LoadState 页面加载状态
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
	LoadStateCommit           LoadState = "commit"
)

// ElementState 元素等待状态
type ElementState string

const (
	StateVisible  ElementState = "visible"
	StateHidden   ElementState = "hidden"
	StateAttached ElementState = "attached"
)

// Scope 元素查找的作用域：页面本身或某个 frame
type Scope interface {
	Locator(selector string) Locator
	// FrameLocator 返回 selector 指向的 iframe 内的作用域
	FrameLocator(selector string) Scope
}

// Page 顶层页面
type Page interface {
	Scope
	Goto(ctx context.Context, url string, waitUntil LoadState) error
	URL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string) error
	Press(ctx context.Context, key string) error
	Screenshot(ctx context.Context, path string, fullPage bool) error
	Close(ctx context.Context) error
}

// Frame 已解析的 frame 执行上下文
type Frame interface {
	WaitForLoadState(ctx context.Context, state LoadState) error
}

// Locator 延迟解析的元素定位器，动作前不要求元素已存在
//
// 所有等待以 ctx 为界，超时返回包装了 context.DeadlineExceeded 的错误。
type Locator interface {
	WaitFor(ctx context.Context, state ElementState) error
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Check(ctx context.Context) error
	Hover(ctx context.Context) error
	SelectOption(ctx context.Context, value string) error
	ScrollIntoView(ctx context.Context) error
	TextContent(ctx context.Context) (string, error)
	IsVisible(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
	Nth(i int) Locator
	ContentFrame(ctx context.Context) (Frame, error)
}

// Provider 为一次执行提供引擎，release 归还引擎
type Provider interface {
	Acquire(ctx context.Context, kind domain.BrowserKind) (b Browser, release func(), err error)
}
