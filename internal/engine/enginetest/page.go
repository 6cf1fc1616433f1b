package enginetest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
)

// Page 假页面
type Page struct {
	scope
	DOM *DOM
	ctx *Context

	mu sync.Mutex
	// NavFailures 剩余的导航失败次数
	NavFailures int
	NavErr      error
	url         string
	Attempts    []string
	Evaluated   []string
	Pressed     []string
	Shots       []string
	// OnGoto 每次成功导航后调用
	OnGoto func(p *Page, url string)
}

// NewPage 创建不属于任何上下文的页面，导航不产生网络事件
func NewPage() *Page {
	p := &Page{DOM: NewDOM(), url: "about:blank"}
	p.scope = scope{resolve: func() *DOM { return p.DOM }}
	return p
}

func (p *Page) Goto(ctx context.Context, url string, waitUntil engine.LoadState) error {
	p.mu.Lock()
	p.Attempts = append(p.Attempts, url)
	if p.NavFailures > 0 {
		p.NavFailures--
		err := p.NavErr
		if err == nil {
			err = fmt.Errorf("net::ERR_CONNECTION_RESET at %s", url)
		}
		p.mu.Unlock()
		return err
	}
	p.url = url
	hook := p.OnGoto
	p.mu.Unlock()

	if p.ctx != nil && url != "about:blank" {
		p.ctx.Fetch(ctx, url, true)
		for _, sub := range p.ctx.browser.opts.Subresources[url] {
			p.ctx.Fetch(ctx, sub, false)
		}
	}
	if hook != nil {
		hook(p, url)
	}
	return nil
}

// SetURL 直接修改当前 URL，模拟页面内跳转
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Evaluated = append(p.Evaluated, expression)
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pressed = append(p.Pressed, key)
	return nil
}

func (p *Page) Screenshot(ctx context.Context, path string, fullPage bool) error {
	p.mu.Lock()
	p.Shots = append(p.Shots, path)
	p.mu.Unlock()
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (p *Page) Close(ctx context.Context) error { return nil }

// AttemptCount 导航尝试次数
func (p *Page) AttemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Attempts)
}
