package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/policy"
	"github.com/raja-9679/TraceIQ-sub000/internal/rules"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

const urlPollInterval = 100 * time.Millisecond

func (e *Executor) gotoURL(ctx context.Context, env Env, s step.Goto) error {
	target := s.URL
	if isHTTP(target) && len(env.Settings.Params) > 0 {
		target = policy.AppendParams(target, env.Settings.Params)
	}
	l := logger.OrNop(env.Log).With("url", target)

	var err error
	for attempt := 1; attempt <= e.cfg.GotoAttempts; attempt++ {
		c, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Navigation)
		err = env.Page.Goto(c, target, engine.LoadState(s.WaitUntil))
		cancel()
		if err == nil {
			if attempt > 1 {
				l.Info("导航重试成功", "attempt", attempt)
			}
			return nil
		}
		l.Warn("导航失败", "attempt", attempt, "max", e.cfg.GotoAttempts, "error", err.Error())
		if ctx.Err() != nil {
			return err
		}
		if attempt < e.cfg.GotoAttempts {
			if serr := e.sleep(ctx, e.cfg.GotoBackoff); serr != nil {
				return err
			}
		}
	}
	return err
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// waitState 等待元素进入指定状态
func (e *Executor) waitState(ctx context.Context, scope engine.Scope, selector string, state engine.ElementState, timeout time.Duration) error {
	if selector == "" {
		return nil
	}
	return waitLocator(ctx, scope.Locator(selector), selector, state, timeout)
}

func waitLocator(ctx context.Context, loc engine.Locator, selector string, state engine.ElementState, timeout time.Duration) error {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := loc.WaitFor(c, state); err != nil {
		return &WaitError{Selector: selector, State: state, Err: err}
	}
	return nil
}

// act 直接执行单个动作
func (e *Executor) act(ctx context.Context, scope engine.Scope, selector string, fn func(context.Context, engine.Locator) error) error {
	if selector == "" {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	return fn(c, scope.Locator(selector))
}

// interact 等待可见，尝试悬停，再执行动作
func (e *Executor) interact(ctx context.Context, env Env, scope engine.Scope, selector string, fn func(context.Context, engine.Locator) error) error {
	if selector == "" {
		return nil
	}
	loc := scope.Locator(selector)
	if err := waitLocator(ctx, loc, selector, engine.StateVisible, e.cfg.Timeouts.Visible); err != nil {
		return err
	}
	e.hover(ctx, env, loc, selector)

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	return fn(c, loc)
}

// hover 尽力悬停，失败只记录
func (e *Executor) hover(ctx context.Context, env Env, loc engine.Locator, selector string) {
	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	if err := loc.Hover(c); err != nil {
		logger.OrNop(env.Log).Debug("悬停失败，忽略", "selector", selector, "error", err.Error())
	}
}

func (e *Executor) selectOption(ctx context.Context, env Env, scope engine.Scope, s step.SelectOption) error {
	if s.Selector == "" || s.Value == "" {
		return fmt.Errorf("select-option requires selector and value")
	}
	loc := scope.Locator(s.Selector)
	e.hover(ctx, env, loc, s.Selector)

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	return loc.SelectOption(c, s.Value)
}

func (e *Executor) expectText(ctx context.Context, scope engine.Scope, s step.ExpectText) error {
	if s.Selector == "" || s.Expected == "" {
		return fmt.Errorf("expect-text requires selector and value")
	}
	loc := scope.Locator(s.Selector)
	if err := waitLocator(ctx, loc, s.Selector, engine.StateVisible, e.cfg.Timeouts.Text); err != nil {
		return err
	}
	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	text, err := loc.TextContent(c)
	if err != nil {
		return fmt.Errorf("read text of %q: %w", s.Selector, err)
	}
	if !strings.Contains(text, s.Expected) {
		return rules.Failf(s.Selector, s.Expected, text, "Expected text %q not found in element %q", s.Expected, s.Selector)
	}
	return nil
}

// expectURL 轮询顶层页面 URL 直到匹配
func (e *Executor) expectURL(ctx context.Context, page engine.Page, pattern string) error {
	c, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.URL)
	defer cancel()

	var last string
	for {
		u, err := page.URL(c)
		if err == nil {
			last = u
			if rules.MatchURL(u, pattern) {
				return nil
			}
		}
		select {
		case <-c.Done():
			return &WaitError{Selector: pattern, State: stateURL, Last: last, Err: c.Err()}
		case <-time.After(urlPollInterval):
		}
	}
}

func (e *Executor) pressKey(ctx context.Context, page engine.Page, key string) error {
	if key == "" {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	return page.Press(c, key)
}

func (e *Executor) screenshot(ctx context.Context, env Env, s step.Screenshot) (string, error) {
	name := s.Name
	if name == "" {
		name = "screenshot"
	}
	dir := env.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	// 同名截图各自落盘，上传 key 取文件名
	path := filepath.Join(dir, filepath.Base(name)+"-"+uuid.NewString()[:8]+".png")

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	if err := env.Page.Screenshot(c, path, true); err != nil {
		return "", fmt.Errorf("screenshot %s: %w", name, err)
	}
	logger.OrNop(env.Log).Debug("截图已保存", "path", path)
	return path, nil
}

// switchFrame 在当前作用域内解析 frame 并返回新的执行作用域，连续切换可进入嵌套 iframe，握手失败不中断执行
func (e *Executor) switchFrame(ctx context.Context, env Env, scope engine.Scope, s step.SwitchFrame) engine.Scope {
	l := logger.OrNop(env.Log).With("frame", s.Target)
	if s.IsTop() || s.Target == "" {
		l.Debug("切回主页面")
		return env.Page
	}

	if s.StrictLifecycle {
		c, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Frame)
		err := e.frameHandshake(c, scope.Locator(s.Target))
		cancel()
		if err != nil {
			l.Warn("frame 生命周期握手失败，继续执行", "error", err.Error())
		}
	}
	l.Debug("切换到 frame")
	return scope.FrameLocator(s.Target)
}

func (e *Executor) frameHandshake(ctx context.Context, loc engine.Locator) error {
	if err := loc.WaitFor(ctx, engine.StateAttached); err != nil {
		return fmt.Errorf("frame not attached: %w", err)
	}
	f, err := loc.ContentFrame(ctx)
	if err != nil {
		return fmt.Errorf("content frame: %w", err)
	}
	if f == nil {
		return errors.New("content frame unavailable")
	}
	if err := f.WaitForLoadState(ctx, engine.LoadStateDOMContentLoaded); err != nil {
		return fmt.Errorf("frame load state: %w", err)
	}
	return nil
}

func (e *Executor) carouselFind(ctx context.Context, env Env, scope engine.Scope, s step.CarouselFind) error {
	if s.Target == "" || s.Next == "" {
		return fmt.Errorf("carousel-find requires selector and next button")
	}
	target := scope.Locator(s.Target)
	next := scope.Locator(s.Next)
	l := logger.OrNop(env.Log).With("target", s.Target)

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	for i := 0; i < s.MaxSwipes; i++ {
		if ok, _ := target.IsVisible(c); ok {
			l.Debug("轮播目标已找到", "swipes", i)
			return nil
		}
		ok, _ := next.IsVisible(c)
		if !ok {
			return fmt.Errorf("Carousel next button '%s' not found/visible", s.Next)
		}
		if err := next.Click(c); err != nil {
			return fmt.Errorf("click carousel next: %w", err)
		}
		if err := e.sleep(ctx, e.settle); err != nil {
			return err
		}
	}
	if ok, _ := target.IsVisible(c); ok {
		return nil
	}
	return fmt.Errorf("Could not find target '%s' in carousel after %d attempts", s.Target, s.MaxSwipes)
}

func (e *Executor) verifyNthChild(ctx context.Context, scope engine.Scope, s step.VerifyNthChild) error {
	if s.Selector == "" {
		return nil
	}
	loc := scope.Locator(s.Selector)

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	n, err := loc.Count(c)
	cancel()
	if err != nil {
		return fmt.Errorf("count %q: %w", s.Selector, err)
	}
	if s.Index < 0 || s.Index >= n {
		return fmt.Errorf("Index %d out of bounds (found %d elements for '%s')", s.Index, n, s.Selector)
	}
	if s.Text == "" {
		return nil
	}

	nth := loc.Nth(s.Index)
	if err := waitLocator(ctx, nth, s.Selector, engine.StateVisible, e.cfg.Timeouts.NthChild); err != nil {
		return err
	}
	c, cancel = context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	text, err := nth.TextContent(c)
	if err != nil {
		return fmt.Errorf("read text of %q[%d]: %w", s.Selector, s.Index, err)
	}
	if !strings.Contains(text, s.Text) {
		return rules.Failf(s.Selector, s.Text, text, "Expected nth-child(%d) to contain %q but got %q", s.Index, s.Text, text)
	}
	return nil
}

func (e *Executor) countChildren(ctx context.Context, scope engine.Scope, s step.CountChildren) error {
	if s.Selector == "" {
		return nil
	}
	loc := scope.Locator(s.Selector)
	if s.Expected > 0 {
		// 等待首个元素出现，超时不算失败
		c, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Probe)
		_ = loc.WaitFor(c, engine.StateAttached)
		cancel()
	}

	c, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()
	n, err := loc.Count(c)
	if err != nil {
		return fmt.Errorf("count %q: %w", s.Selector, err)
	}
	return rules.CompareCount(s.Operator, n, s.Expected)
}
