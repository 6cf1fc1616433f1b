package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	adapter "github.com/raja-9679/TraceIQ-sub000/internal/adapter/cdp"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// routeTimeout 单个拦截事件的处理上限
const routeTimeout = 3 * time.Second

// enableFetch 开启请求阶段拦截并启动消费协程
func (p *Page) enableFetch() error {
	p.mu.Lock()
	if p.fetchOn || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.fetchOn = true
	p.mu.Unlock()

	rp, err := p.client.Fetch.RequestPaused(p.lctx)
	if err != nil {
		return fmt.Errorf("subscribe request paused: %w", err)
	}
	ctx, cancel := context.WithTimeout(p.lctx, routeTimeout)
	defer cancel()
	pattern := "*"
	err = p.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: []fetch.RequestPattern{
		{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest},
	}})
	if err != nil {
		rp.Close()
		return fmt.Errorf("enable fetch: %w", err)
	}
	go p.consume(rp)
	return nil
}

// consume 持续接收拦截事件，每个事件独立处理
func (p *Page) consume(rp fetch.RequestPausedClient) {
	defer rp.Close()
	p.log.Debug("开始消费拦截事件流")
	for {
		ev, err := rp.Recv()
		if err != nil {
			if p.lctx.Err() == nil {
				p.log.Err(err, "接收拦截事件失败")
			}
			return
		}
		go p.handle(ev)
	}
}

// handle 交给上下文的路由处理器，处理器未放行时降级放行
func (p *Page) handle(ev *fetch.RequestPausedReply) {
	h := p.owner.routeHandler()
	r := &route{page: p, ev: ev, req: adapter.ToNeutralRequest(ev)}
	if h == nil {
		p.degradeAndContinue(r, "未安装路由处理器")
		return
	}

	ctx, cancel := context.WithTimeout(p.lctx, routeTimeout)
	defer cancel()
	func() {
		defer func() {
			if v := recover(); v != nil {
				p.log.Error("路由处理器异常", "panic", fmt.Sprint(v), "url", ev.Request.URL)
			}
		}()
		h(ctx, r)
	}()
	if !r.continued() {
		p.degradeAndContinue(r, "处理器未放行请求")
	}
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (p *Page) degradeAndContinue(r *route, reason string) {
	p.log.Warn("执行降级策略：直接放行", "reason", reason, "requestID", string(r.ev.RequestID))
	ctx, cancel := context.WithTimeout(p.lctx, time.Second)
	defer cancel()
	if err := r.Continue(ctx, engine.Overrides{}); err != nil && p.lctx.Err() == nil {
		p.log.Err(err, "降级放行失败", "url", r.ev.Request.URL)
	}
}

// route 实现 engine.Route
type route struct {
	page *Page
	ev   *fetch.RequestPausedReply
	req  *traffic.Request

	mu   sync.Mutex
	done bool
}

func (r *route) Request() *traffic.Request { return r.req }

// Continue 放行请求，Headers 非空时整体替换请求头
func (r *route) Continue(ctx context.Context, o engine.Overrides) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return errors.New("route already continued")
	}
	r.done = true

	args := fetch.NewContinueRequestArgs(r.ev.RequestID)
	if o.URL != "" {
		args.SetURL(o.URL)
	}
	if o.Headers != nil {
		args.SetHeaders(adapter.ToHeaderEntries(o.Headers))
		r.page.recordSent(r.req.ID, o.Headers)
	}
	return r.page.client.Fetch.ContinueRequest(ctx, args)
}

func (r *route) continued() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
