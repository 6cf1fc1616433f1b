package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	cdpemulation "github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	adapter "github.com/raja-9679/TraceIQ-sub000/internal/adapter/cdp"
	"github.com/raja-9679/TraceIQ-sub000/internal/emulation"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// Page 一个页面目标及其独立的 DevTools 连接
type Page struct {
	frameScope

	owner     *Context
	id        target.ID
	conn      *rpcc.Conn
	client    *cdp.Client
	log       logger.Logger
	mainFrame page.FrameID
	timeout   time.Duration

	// lctx 页面生命周期，事件流都挂在它上面
	lctx   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	flights *inflight
	fetchOn bool
	sc      *screencast
	closed  bool
}

func openPage(ctx context.Context, c *Context, id target.ID, scripts []string) (*Page, error) {
	conn, err := rpcc.DialContext(ctx, c.browser.pageWebSocket(id))
	if err != nil {
		return nil, fmt.Errorf("dial page %s: %w", id, err)
	}
	lctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		owner:   c,
		id:      id,
		conn:    conn,
		client:  cdp.NewClient(conn),
		log:     c.log.With("target", string(id)),
		timeout: c.opts.DefaultTimeout,
		lctx:    lctx,
		cancel:  cancel,
		flights: newInflight(inflightTTL),
	}
	p.frameScope = frameScope{page: p}

	if err := p.init(ctx, scripts); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Page) init(ctx context.Context, scripts []string) error {
	rws, err := p.client.Network.RequestWillBeSent(p.lctx)
	if err != nil {
		return err
	}
	rr, err := p.client.Network.ResponseReceived(p.lctx)
	if err != nil {
		rws.Close()
		return err
	}
	lf, err := p.client.Network.LoadingFailed(p.lctx)
	if err != nil {
		rws.Close()
		rr.Close()
		return err
	}
	if err := cdp.Sync(rws, rr, lf); err != nil {
		p.log.Warn("网络事件流同步失败", "error", err.Error())
	}

	if err := p.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("enable page: %w", err)
	}
	if err := p.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("enable runtime: %w", err)
	}
	if err := p.client.Network.Enable(ctx, network.NewEnableArgs()); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	if err := p.client.Page.SetLifecycleEventsEnabled(ctx, page.NewSetLifecycleEventsEnabledArgs(true)); err != nil {
		return fmt.Errorf("enable lifecycle events: %w", err)
	}
	tree, err := p.client.Page.GetFrameTree(ctx)
	if err != nil {
		return fmt.Errorf("get frame tree: %w", err)
	}
	p.mainFrame = tree.FrameTree.Frame.ID

	if err := p.emulate(ctx, p.owner.opts.Emulation); err != nil {
		return err
	}
	for _, s := range scripts {
		if err := p.addInitScript(ctx, s); err != nil {
			return err
		}
	}
	if p.owner.routeHandler() != nil {
		if err := p.enableFetch(); err != nil {
			return err
		}
	}
	if p.owner.videoPath != "" {
		if err := p.startScreencast(ctx, p.owner.browser.video); err != nil {
			p.log.Warn("启动录屏失败", "error", err.Error())
		}
	}

	go p.consumeNetwork(rws, rr, lf)
	return nil
}

func (p *Page) emulate(ctx context.Context, d *emulation.Descriptor) error {
	if d == nil {
		return nil
	}
	mobile := d.IsMobile != nil && *d.IsMobile
	scale := d.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	if d.Viewport.Width > 0 && d.Viewport.Height > 0 {
		args := cdpemulation.NewSetDeviceMetricsOverrideArgs(d.Viewport.Width, d.Viewport.Height, scale, mobile)
		if err := p.client.Emulation.SetDeviceMetricsOverride(ctx, args); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
	}
	if d.HasTouch {
		if err := p.client.Emulation.SetTouchEmulationEnabled(ctx, cdpemulation.NewSetTouchEmulationEnabledArgs(true)); err != nil {
			return fmt.Errorf("enable touch: %w", err)
		}
	}
	if d.UserAgent != "" {
		if err := p.client.Emulation.SetUserAgentOverride(ctx, cdpemulation.NewSetUserAgentOverrideArgs(d.UserAgent)); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	return nil
}

func (p *Page) addInitScript(ctx context.Context, script string) error {
	_, err := p.client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(script))
	if err != nil {
		return fmt.Errorf("add init script: %w", err)
	}
	return nil
}

// consumeNetwork 把网络事件转换后交给上下文的监听器
func (p *Page) consumeNetwork(rws network.RequestWillBeSentClient, rr network.ResponseReceivedClient, lf network.LoadingFailedClient) {
	defer rws.Close()
	defer rr.Close()
	defer lf.Close()
	for {
		select {
		case <-p.lctx.Done():
			return
		case <-rws.Ready():
			ev, err := rws.Recv()
			if err != nil {
				return
			}
			req := adapter.FromRequestWillBeSent(ev)
			p.mu.Lock()
			p.flights.begin(ev.RequestID, req.Method, req.Headers, time.Now())
			p.mu.Unlock()
			p.owner.emitRequest(engine.RequestEvent{Request: req, At: time.Now()})
		case <-rr.Ready():
			ev, err := rr.Recv()
			if err != nil {
				return
			}
			p.mu.Lock()
			method, headers := p.flights.finish(ev.RequestID)
			p.mu.Unlock()
			res := adapter.FromResponseReceived(ev, method, p.mainFrame)
			p.owner.emitResponse(engine.ResponseEvent{Response: res, RequestHeaders: headers, At: time.Now()})
		case <-lf.Ready():
			ev, err := lf.Recv()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.flights.finish(ev.RequestID)
			p.mu.Unlock()
			p.log.Debug("请求失败", "requestID", string(ev.RequestID), "error", ev.ErrorText)
		}
	}
}

// recordSent 记录改写后实际发出的请求头
func (p *Page) recordSent(id string, h traffic.Header) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.flights.rewrite(network.RequestID(id), h.Clone(), time.Now())
	p.mu.Unlock()
}

// bound 没有截止时间时套用默认超时
func (p *Page) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Goto 导航顶层页面并等待指定加载状态
func (p *Page) Goto(ctx context.Context, url string, waitUntil engine.LoadState) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var wait func() error
	switch waitUntil {
	case engine.LoadStateCommit:
	case engine.LoadStateLoad:
		lf, err := p.client.Page.LoadEventFired(ctx)
		if err != nil {
			return err
		}
		defer lf.Close()
		wait = func() error { _, err := lf.Recv(); return err }
	case engine.LoadStateNetworkIdle:
		le, err := p.client.Page.LifecycleEvent(ctx)
		if err != nil {
			return err
		}
		defer le.Close()
		wait = func() error {
			for {
				ev, err := le.Recv()
				if err != nil {
					return err
				}
				if ev.FrameID == p.mainFrame && ev.Name == "networkIdle" {
					return nil
				}
			}
		}
	default:
		dcl, err := p.client.Page.DOMContentEventFired(ctx)
		if err != nil {
			return err
		}
		defer dcl.Close()
		wait = func() error { _, err := dcl.Recv(); return err }
	}

	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, ctxErr(ctx, err))
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	// 同文档跳转没有 loader，不会再触发加载事件
	if wait == nil || reply.LoaderID == nil {
		return nil
	}
	if err := wait(); err != nil {
		return fmt.Errorf("wait for %s on %s: %w", waitUntil, url, ctxErr(ctx, err))
	}
	return nil
}

// ctxErr 上下文结束时优先返回 ctx.Err()，便于调用方判断超时
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.eval(ctx, nil, "location.href", &u); err != nil {
		return "", err
	}
	return u, nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) error {
	return p.eval(ctx, nil, expression, nil)
}

// eval 在指定执行上下文中求值，ectx 为空时使用页面主上下文
func (p *Page) eval(ctx context.Context, ectx *runtime.ExecutionContextID, expr string, out any) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	if ectx != nil {
		args.SetContextID(*ectx)
	}
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return fmt.Errorf("evaluate: %w", ctxErr(ctx, err))
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("evaluate: %s", exceptionText(reply.ExceptionDetails))
	}
	if out == nil || len(reply.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(reply.Result.Value, out)
}

// evalObject 求值并返回远程对象，结果为 null 时返回 engine.ErrNotFound
func (p *Page) evalObject(ctx context.Context, ectx *runtime.ExecutionContextID, expr string) (runtime.RemoteObjectID, error) {
	args := runtime.NewEvaluateArgs(expr)
	if ectx != nil {
		args.SetContextID(*ectx)
	}
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", ctxErr(ctx, err))
	}
	if reply.ExceptionDetails != nil {
		return "", fmt.Errorf("evaluate: %s", exceptionText(reply.ExceptionDetails))
	}
	if reply.Result.ObjectID == nil {
		return "", engine.ErrNotFound
	}
	return *reply.Result.ObjectID, nil
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != nil {
		return *d.Exception.Description
	}
	return d.Text
}

func (p *Page) Press(ctx context.Context, key string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	return pressKey(ctx, p.client, key)
}

// Screenshot fullPage 时按文档尺寸截取
func (p *Page) Screenshot(ctx context.Context, path string, fullPage bool) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	args := page.NewCaptureScreenshotArgs().SetFormat("png")
	if fullPage {
		var size struct{ W, H float64 }
		if err := p.eval(ctx, nil, documentSizeJS, &size); err == nil && size.W > 0 && size.H > 0 {
			args.SetCaptureBeyondViewport(true).SetClip(page.Viewport{Width: size.W, Height: size.H, Scale: 1})
		}
	}
	reply, err := p.client.Page.CaptureScreenshot(ctx, args)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", ctxErr(ctx, err))
	}
	return os.WriteFile(path, reply.Data, 0o644)
}

// Close 关闭页面目标与连接
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	var errs []error
	if _, err := p.owner.browser.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(p.id)); err != nil {
		errs = append(errs, fmt.Errorf("close target: %w", err))
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
