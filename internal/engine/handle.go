package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// Handle 惰性启动的单个引擎进程
//
// 请求相同类型时复用，类型不同时先关闭旧进程再启动新进程。
type Handle struct {
	mu       sync.Mutex
	launcher Launcher
	browser  Browser
	log      logger.Logger
}

// NewHandle 创建引擎句柄
func NewHandle(l Launcher, log logger.Logger) *Handle {
	return &Handle{launcher: l, log: logger.OrNop(log)}
}

// Ensure 返回指定类型的可用引擎
func (h *Handle) Ensure(ctx context.Context, kind domain.BrowserKind) (Browser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		if h.browser.Kind() == kind {
			return h.browser, nil
		}
		h.log.Info("切换引擎类型", "from", h.browser.Kind(), "to", kind)
		if err := h.stopLocked(); err != nil {
			h.log.Err(err, "关闭旧引擎失败")
		}
	}

	h.log.Info("启动引擎", "kind", kind)
	b, err := h.launcher.Launch(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", kind, err)
	}
	h.browser = b
	return b, nil
}

// Acquire 实现 Provider，单句柄模式下归还是空操作
func (h *Handle) Acquire(ctx context.Context, kind domain.BrowserKind) (Browser, func(), error) {
	b, err := h.Ensure(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	return b, func() {}, nil
}

// Current 当前引擎，未启动时为 nil
func (h *Handle) Current() Browser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.browser
}

// Stop 关闭引擎，未启动时为空操作
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked()
}

func (h *Handle) stopLocked() error {
	if h.browser == nil {
		return nil
	}
	b := h.browser
	h.browser = nil
	h.log.Info("关闭引擎", "kind", b.Kind())
	return b.Close()
}
