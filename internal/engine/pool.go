package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

type poolEntry struct {
	handle *Handle
	inUse  int
	timer  *time.Timer
}

// Pool 每种引擎类型一个进程，按需检出归还，空闲超时后关闭
type Pool struct {
	mu       sync.Mutex
	launcher Launcher
	idle     time.Duration
	entries  map[domain.BrowserKind]*poolEntry
	closed   bool
	log      logger.Logger
}

// NewPool 创建引擎池，idle <= 0 时不做空闲回收
func NewPool(l Launcher, idle time.Duration, log logger.Logger) *Pool {
	return &Pool{
		launcher: l,
		idle:     idle,
		entries:  make(map[domain.BrowserKind]*poolEntry),
		log:      logger.OrNop(log),
	}
}

// Acquire 检出指定类型的引擎，用完必须调用 release
func (p *Pool) Acquire(ctx context.Context, kind domain.BrowserKind) (Browser, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrClosed
	}
	e, ok := p.entries[kind]
	if !ok {
		e = &poolEntry{handle: NewHandle(p.launcher, p.log)}
		p.entries[kind] = e
	}
	e.inUse++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	p.mu.Unlock()

	b, err := e.handle.Ensure(ctx, kind)
	if err != nil {
		p.release(kind, e)
		return nil, nil, err
	}

	var once sync.Once
	return b, func() { once.Do(func() { p.release(kind, e) }) }, nil
}

func (p *Pool) release(kind domain.BrowserKind, e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.inUse--
	if e.inUse > 0 || p.closed || p.idle <= 0 {
		return
	}
	e.timer = time.AfterFunc(p.idle, func() { p.reap(kind, e) })
}

func (p *Pool) reap(kind domain.BrowserKind, e *poolEntry) {
	p.mu.Lock()
	if e.inUse > 0 || p.entries[kind] != e {
		p.mu.Unlock()
		return
	}
	delete(p.entries, kind)
	p.mu.Unlock()

	p.log.Info("回收空闲引擎", "kind", kind)
	if err := e.handle.Stop(); err != nil {
		p.log.Err(err, "关闭空闲引擎失败", "kind", kind)
	}
}

// InUse 指定类型当前的检出数
func (p *Pool) InUse(kind domain.BrowserKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[kind]; ok {
		return e.inUse
	}
	return 0
}

// Close 关闭全部引擎
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[domain.BrowserKind]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if err := e.handle.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
