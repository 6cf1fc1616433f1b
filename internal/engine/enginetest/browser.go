package enginetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// Options 假引擎行为
type Options struct {
	LaunchErr error
	// Setup 每个新页面创建后调用，用于布置 DOM 或注入导航失败
	Setup func(p *Page)
	// Serve 返回请求的状态码与响应头，默认 200
	Serve func(r *traffic.Request) (int, map[string]string)
	// Subresources 导航到某 URL 后继续请求的子资源
	Subresources map[string][]string
	// InitScriptErr 非空时 AddInitScript 失败
	InitScriptErr error
	// TraceErr 非空时 StartTracing 失败，模拟浏览器已被其他 run 追踪
	TraceErr error
}

// Launcher 假引擎启动器
type Launcher struct {
	Opts Options

	mu       sync.Mutex
	launches map[domain.BrowserKind]int
	browsers []*Browser
}

// NewLauncher 创建启动器
func NewLauncher(opts Options) *Launcher {
	return &Launcher{Opts: opts, launches: make(map[domain.BrowserKind]int)}
}

// Launch 实现 engine.Launcher
func (l *Launcher) Launch(ctx context.Context, kind domain.BrowserKind) (engine.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Opts.LaunchErr != nil {
		return nil, l.Opts.LaunchErr
	}
	l.launches[kind]++
	b := &Browser{kind: kind, opts: &l.Opts}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Launches 指定类型的启动次数
func (l *Launcher) Launches(kind domain.BrowserKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches[kind]
}

// Browsers 启动过的全部引擎
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Browser 假引擎进程
type Browser struct {
	kind domain.BrowserKind
	opts *Options

	mu       sync.Mutex
	closed   bool
	contexts []*Context
}

func (b *Browser) Kind() domain.BrowserKind { return b.kind }

func (b *Browser) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, engine.ErrClosed
	}
	c := &Context{browser: b, Options: opts}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed 是否已关闭
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Contexts 创建过的全部上下文
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Sent 实际发出（经过路由改写后）的请求
type Sent struct {
	URL          string
	Headers      traffic.Header
	IsNavigation bool
}

// Context 假浏览上下文
type Context struct {
	browser *Browser
	Options engine.ContextOptions

	mu          sync.Mutex
	InitScripts []string
	route       engine.RouteHandler
	onRequest   []func(engine.RequestEvent)
	onResponse  []func(engine.ResponseEvent)
	pages       []*Page
	sent        []Sent
	tracing     bool
	TraceStops  int
	closed      bool
	videoPath   string
}

func (c *Context) AddInitScript(ctx context.Context, script string) error {
	if c.browser.opts.InitScriptErr != nil {
		return c.browser.opts.InitScriptErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitScripts = append(c.InitScripts, script)
	return nil
}

func (c *Context) Route(h engine.RouteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route = h
	return nil
}

func (c *Context) OnRequest(fn func(engine.RequestEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = append(c.onRequest, fn)
}

func (c *Context) OnResponse(fn func(engine.ResponseEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResponse = append(c.onResponse, fn)
}

func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, engine.ErrClosed
	}
	p := NewPage()
	p.ctx = c
	c.pages = append(c.pages, p)
	c.mu.Unlock()

	if c.browser.opts.Setup != nil {
		c.browser.opts.Setup(p)
	}
	return p, nil
}

func (c *Context) StartTracing(ctx context.Context) error {
	if c.browser.opts.TraceErr != nil {
		return c.browser.opts.TraceErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracing = true
	return nil
}

func (c *Context) StopTracing(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracing {
		return errors.New("tracing not started")
	}
	c.tracing = false
	c.TraceStops++
	return os.WriteFile(path, []byte("PK-trace"), 0o644)
}

func (c *Context) VideoPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoPath
}

func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if dir := c.Options.RecordVideoDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		c.videoPath = filepath.Join(dir, uuid.NewString()+".webm")
		return os.WriteFile(c.videoPath, []byte("webm"), 0o644)
	}
	return nil
}

// Closed 是否已关闭
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pages 创建过的全部页面
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

// Sent 已发出的请求
func (c *Context) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTo 发往指定主机的请求
func (c *Context) SentTo(host string) []Sent {
	var out []Sent
	for _, s := range c.Sent() {
		if traffic.Hostname(s.URL) == host {
			out = append(out, s)
		}
	}
	return out
}

// Fetch 模拟页面发起一个请求：经过路由后触发请求/响应事件
func (c *Context) Fetch(ctx context.Context, rawURL string, navigation bool) {
	req := traffic.NewRequest()
	req.ID = uuid.NewString()
	req.URL = rawURL
	req.Method = "GET"
	req.IsNavigation = navigation
	req.ResourceType = "fetch"
	if navigation {
		req.ResourceType = "document"
	}

	c.mu.Lock()
	route := c.route
	onReq := append([]func(engine.RequestEvent){}, c.onRequest...)
	onRes := append([]func(engine.ResponseEvent){}, c.onResponse...)
	c.mu.Unlock()

	r := &fakeRoute{req: req}
	if route != nil {
		route(ctx, r)
	}
	final := r.final()

	for _, fn := range onReq {
		fn(engine.RequestEvent{Request: final, At: time.Now()})
	}

	c.mu.Lock()
	c.sent = append(c.sent, Sent{URL: final.URL, Headers: final.Headers.Clone(), IsNavigation: navigation})
	c.mu.Unlock()

	status, headers := 200, map[string]string{"content-type": "text/html"}
	if c.browser.opts.Serve != nil {
		status, headers = c.browser.opts.Serve(final)
	}
	res := traffic.NewResponse()
	res.RequestID = final.ID
	res.URL = final.URL
	res.Method = final.Method
	res.StatusCode = status
	res.Headers = traffic.HeaderFrom(headers)
	res.ResourceType = final.ResourceType
	res.IsMainDocument = navigation
	for _, fn := range onRes {
		fn(engine.ResponseEvent{Response: res, RequestHeaders: final.Headers.Clone(), At: time.Now()})
	}
}

type fakeRoute struct {
	req       *traffic.Request
	continued bool
	o         engine.Overrides
}

func (r *fakeRoute) Request() *traffic.Request { return r.req }

func (r *fakeRoute) Continue(ctx context.Context, o engine.Overrides) error {
	if r.continued {
		return fmt.Errorf("route %s already continued", r.req.ID)
	}
	r.continued = true
	r.o = o
	return nil
}

func (r *fakeRoute) final() *traffic.Request {
	out := *r.req
	out.Headers = r.req.Headers.Clone()
	if r.o.URL != "" {
		out.URL = r.o.URL
	}
	if r.o.Headers != nil {
		out.Headers = r.o.Headers.Clone()
	}
	return &out
}
