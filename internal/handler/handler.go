package handler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/policy"
)

// Handler 请求拦截处理器，按当前用例作用域改写请求
type Handler struct {
	state *policy.State
	log   logger.Logger

	modified atomic.Int64
	passed   atomic.Int64
}

// Config 配置选项
type Config struct {
	State  *policy.State
	Logger logger.Logger
}

// New 创建拦截处理器
func New(cfg Config) *Handler {
	return &Handler{state: cfg.State, log: logger.OrNop(cfg.Logger)}
}

// HandleRoute 实现 engine.RouteHandler
func (h *Handler) HandleRoute(ctx context.Context, r engine.Route) {
	req := r.Request()
	l := h.log.With("requestId", req.ID, "url", req.URL)
	start := time.Now()

	decision := h.state.Evaluate(req)
	if !decision.Modified() {
		h.passed.Add(1)
		if err := r.Continue(ctx, engine.Overrides{}); err != nil {
			l.Err(err, "放行请求失败")
		}
		return
	}

	// 只改写 URL 时也携带原有 headers
	o := engine.Overrides{Headers: decision.Headers}
	if decision.URLModified {
		o.URL = decision.URL
	}
	h.modified.Add(1)
	if err := r.Continue(ctx, o); err != nil {
		l.Err(err, "继续改写请求失败")
		return
	}
	l.Debug("请求已改写", "newUrl", o.URL, "headers", len(o.Headers), "duration", time.Since(start))
}

// Stats 返回改写与放行的请求数
func (h *Handler) Stats() (modified, passed int64) {
	return h.modified.Load(), h.passed.Load()
}
