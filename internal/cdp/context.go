package cdp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/mafredri/cdp/protocol/browser"
	"github.com/mafredri/cdp/protocol/target"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
)

// Context 浏览上下文，对应 DevTools 的 BrowserContext
type Context struct {
	browser *Browser
	id      browser.ContextID
	opts    engine.ContextOptions
	log     logger.Logger

	mu          sync.Mutex
	initScripts []string
	route       engine.RouteHandler
	onRequest   []func(engine.RequestEvent)
	onResponse  []func(engine.ResponseEvent)
	pages       []*Page
	tracer      *tracer
	videoPath   string
	closed      bool
}

func newContext(b *Browser, id browser.ContextID, opts engine.ContextOptions) *Context {
	c := &Context{
		browser: b,
		id:      id,
		opts:    opts,
		log:     b.log.With("context", string(id)),
	}
	if opts.RecordVideoDir != "" && b.video.Enabled {
		c.videoPath = filepath.Join(opts.RecordVideoDir, uuid.NewString()+".webm")
	}
	return c
}

// AddInitScript 注入到当前及之后创建的页面
func (c *Context) AddInitScript(ctx context.Context, script string) error {
	c.mu.Lock()
	c.initScripts = append(c.initScripts, script)
	pages := append([]*Page(nil), c.pages...)
	c.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.addInitScript(ctx, script); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Route 安装请求拦截，只允许安装一次
func (c *Context) Route(h engine.RouteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.route != nil {
		return errors.New("route handler already installed")
	}
	c.route = h
	for _, p := range c.pages {
		if err := p.enableFetch(); err != nil {
			return err
		}
	}
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

func (c *Context) emitRequest(ev engine.RequestEvent) {
	c.mu.Lock()
	fns := append([]func(engine.RequestEvent){}, c.onRequest...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Context) emitResponse(ev engine.ResponseEvent) {
	c.mu.Lock()
	fns := append([]func(engine.ResponseEvent){}, c.onResponse...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Context) routeHandler() engine.RouteHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

// NewPage 在上下文中打开新页面
func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, engine.ErrClosed
	}
	scripts := append([]string(nil), c.initScripts...)
	c.mu.Unlock()

	reply, err := c.browser.client.Target.CreateTarget(ctx,
		target.NewCreateTargetArgs("about:blank").SetBrowserContextID(c.id))
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	p, err := openPage(ctx, c, reply.TargetID, scripts)
	if err != nil {
		_, _ = c.browser.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(reply.TargetID))
		return nil, err
	}

	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

// StartTracing 在浏览器连接上开始追踪
//
// 追踪属于整个浏览器进程，共享同一浏览器的并发 run 只有第一个能开启。
func (c *Context) StartTracing(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracer != nil {
		return errors.New("tracing already started")
	}
	t, err := startTracer(ctx, c.browser.client, c.log)
	if err != nil {
		return err
	}
	c.tracer = t
	return nil
}

// StopTracing 停止追踪并写入 zip
func (c *Context) StopTracing(ctx context.Context, path string) error {
	c.mu.Lock()
	t := c.tracer
	c.tracer = nil
	c.mu.Unlock()
	if t == nil {
		return errors.New("tracing not started")
	}
	return t.stop(ctx, path)
}

func (c *Context) VideoPath() string { return c.videoPath }

// Close 关闭全部页面与上下文，录屏在此时编码落盘
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.pages = nil
	t := c.tracer
	c.tracer = nil
	c.mu.Unlock()

	var errs []error
	if t != nil {
		t.abort(ctx)
	}
	var frames []*screencast
	for _, p := range pages {
		if sc := p.stopScreencast(ctx); sc != nil {
			frames = append(frames, sc)
		}
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.browser.client.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(c.id)); err != nil {
		errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
	}
	c.browser.forget(c.id)

	// 只编码第一个页面的录屏
	if c.videoPath != "" {
		if len(frames) == 0 {
			c.videoPath = ""
		} else if err := frames[0].encode(c.videoPath, c.browser.video); err != nil {
			c.log.Err(err, "录屏编码失败")
			c.videoPath = ""
		}
	}
	for _, sc := range frames {
		os.RemoveAll(sc.dir)
	}
	c.log.Debug("浏览上下文已关闭")
	return errors.Join(errs...)
}
