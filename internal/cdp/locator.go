package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
)

const pollInterval = 100 * time.Millisecond

type point struct{ X, Y float64 }

// frameScope 元素查找作用域，frames 为从顶层开始逐级进入的 iframe 选择器
type frameScope struct {
	page   *Page
	frames []string
}

func (s frameScope) Locator(selector string) engine.Locator {
	return &locator{scope: s, selector: selector}
}

func (s frameScope) FrameLocator(selector string) engine.Scope {
	frames := append(append([]string(nil), s.frames...), selector)
	return frameScope{page: s.page, frames: frames}
}

// resolve 逐级进入 iframe，返回执行上下文与该 frame 在顶层视口中的偏移
//
// 每级 frame 都创建隔离的执行环境，跨域 frame 同样可用。
func (s frameScope) resolve(ctx context.Context) (*runtime.ExecutionContextID, point, error) {
	var (
		ectx *runtime.ExecutionContextID
		off  point
	)
	p := s.page
	for _, sel := range s.frames {
		var r *point
		if err := p.eval(ctx, ectx, locatorExpr(sel, 0, frameOffsetJS), &r); err != nil {
			return nil, off, err
		}
		if r == nil {
			return nil, off, fmt.Errorf("frame %q: %w", sel, engine.ErrNotFound)
		}
		off.X += r.X
		off.Y += r.Y

		obj, err := p.evalObject(ctx, ectx, locatorExpr(sel, 0, elementJS))
		if err != nil {
			return nil, off, fmt.Errorf("frame %q: %w", sel, err)
		}
		node, err := p.client.DOM.DescribeNode(ctx, dom.NewDescribeNodeArgs().SetObjectID(obj))
		_ = p.client.Runtime.ReleaseObject(ctx, runtime.NewReleaseObjectArgs(obj))
		if err != nil {
			return nil, off, fmt.Errorf("describe frame %q: %w", sel, err)
		}
		if node.Node.FrameID == nil {
			return nil, off, fmt.Errorf("%q is not a frame: %w", sel, engine.ErrNotFound)
		}
		world, err := p.client.Page.CreateIsolatedWorld(ctx,
			page.NewCreateIsolatedWorldArgs(*node.Node.FrameID).SetWorldName("traceiq"))
		if err != nil {
			return nil, off, fmt.Errorf("frame %q context: %w", sel, err)
		}
		id := world.ExecutionContextID
		ectx = &id
	}
	return ectx, off, nil
}

// locator 延迟解析的元素定位器，每次操作都重新查找
type locator struct {
	scope    frameScope
	selector string
	nth      int
}

func (l *locator) eval(ctx context.Context, body string, out any) error {
	ectx, _, err := l.scope.resolve(ctx)
	if err != nil {
		return err
	}
	return l.scope.page.eval(ctx, ectx, locatorExpr(l.selector, l.nth, body), out)
}

type elementState struct {
	Attached bool `json:"attached"`
	Visible  bool `json:"visible"`
}

func (l *locator) WaitFor(ctx context.Context, state engine.ElementState) error {
	for {
		var st elementState
		if err := l.eval(ctx, stateJS, &st); err == nil && matchState(st, state) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q to be %s: %w", l.selector, state, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func matchState(st elementState, want engine.ElementState) bool {
	switch want {
	case engine.StateAttached:
		return st.Attached
	case engine.StateHidden:
		return !st.Visible
	default:
		return st.Visible
	}
}

// center 滚动到可见并返回元素中心在顶层视口中的坐标
func (l *locator) center(ctx context.Context) (point, error) {
	ectx, off, err := l.scope.resolve(ctx)
	if err != nil {
		return point{}, err
	}
	var pt *point
	if err := l.scope.page.eval(ctx, ectx, locatorExpr(l.selector, l.nth, pointJS), &pt); err != nil {
		return point{}, err
	}
	if pt == nil {
		return point{}, fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return point{X: off.X + pt.X, Y: off.Y + pt.Y}, nil
}

func (l *locator) mouse(ctx context.Context, types ...string) error {
	pt, err := l.center(ctx)
	if err != nil {
		return err
	}
	c := l.scope.page.client
	for _, t := range types {
		args := input.NewDispatchMouseEventArgs(t, pt.X, pt.Y)
		if t != "mouseMoved" {
			args.SetButton(input.MouseButtonLeft).SetClickCount(1)
		}
		if err := c.Input.DispatchMouseEvent(ctx, args); err != nil {
			return fmt.Errorf("%s on %q: %w", t, l.selector, err)
		}
	}
	return nil
}

func (l *locator) Click(ctx context.Context) error {
	return l.mouse(ctx, "mouseMoved", "mousePressed", "mouseReleased")
}

func (l *locator) Hover(ctx context.Context) error {
	return l.mouse(ctx, "mouseMoved")
}

func (l *locator) Fill(ctx context.Context, value string) error {
	var ok bool
	if err := l.eval(ctx, fillJS(value), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return nil
}

func (l *locator) Check(ctx context.Context) error {
	checked, err := l.checked(ctx)
	if err != nil || checked {
		return err
	}
	if err := l.Click(ctx); err != nil {
		return err
	}
	if checked, err = l.checked(ctx); err != nil {
		return err
	}
	if !checked {
		return fmt.Errorf("check %q: element did not become checked", l.selector)
	}
	return nil
}

func (l *locator) checked(ctx context.Context) (bool, error) {
	var v *bool
	if err := l.eval(ctx, checkedJS, &v); err != nil {
		return false, err
	}
	if v == nil {
		return false, fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return *v, nil
}

func (l *locator) SelectOption(ctx context.Context, value string) error {
	var res string
	if err := l.eval(ctx, selectJS(value), &res); err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "no-option":
		return fmt.Errorf("select %q: no option %q", l.selector, value)
	default:
		return fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
}

func (l *locator) ScrollIntoView(ctx context.Context) error {
	var ok bool
	if err := l.eval(ctx, scrollJS, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return nil
}

func (l *locator) TextContent(ctx context.Context) (string, error) {
	var text *string
	if err := l.eval(ctx, textJS, &text); err != nil {
		return "", err
	}
	if text == nil {
		return "", fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return *text, nil
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	var st elementState
	if err := l.eval(ctx, stateJS, &st); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return st.Visible, nil
}

func (l *locator) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.eval(ctx, countJS, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *locator) Nth(i int) engine.Locator {
	return &locator{scope: l.scope, selector: l.selector, nth: i}
}

// ContentFrame 返回 iframe 元素内部的执行上下文
func (l *locator) ContentFrame(ctx context.Context) (engine.Frame, error) {
	fs := l.scope.FrameLocator(l.selector).(frameScope)
	ectx, _, err := fs.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &frame{page: l.scope.page, ectx: ectx}, nil
}

type frame struct {
	page *Page
	ectx *runtime.ExecutionContextID
}

// WaitForLoadState 轮询 document.readyState
func (f *frame) WaitForLoadState(ctx context.Context, state engine.LoadState) error {
	for {
		var rs string
		if err := f.page.eval(ctx, f.ectx, readyStateJS, &rs); err == nil && readyFor(rs, state) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("frame load state %s: %w", state, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func readyFor(readyState string, state engine.LoadState) bool {
	switch state {
	case engine.LoadStateLoad, engine.LoadStateNetworkIdle:
		return readyState == "complete"
	case engine.LoadStateCommit:
		return readyState != ""
	default:
		return readyState == "interactive" || readyState == "complete"
	}
}
