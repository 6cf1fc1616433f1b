package enginetest

import (
	"context"
	"fmt"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
)

const pollInterval = 5 * time.Millisecond

type scope struct {
	resolve func() *DOM
}

var emptyDOM = NewDOM()

func (s scope) dom() *DOM {
	if d := s.resolve(); d != nil {
		return d
	}
	return emptyDOM
}

func (s scope) Locator(selector string) engine.Locator {
	return &locator{scope: s, selector: selector}
}

func (s scope) FrameLocator(selector string) engine.Scope {
	parent := s
	return scope{resolve: func() *DOM {
		if f := parent.dom().frame(selector); f != nil {
			return f.DOM
		}
		return nil
	}}
}

type locator struct {
	scope    scope
	selector string
	nth      int
}

func (l *locator) element() *Element {
	els := l.scope.dom().lookup(l.selector)
	if l.nth < 0 || l.nth >= len(els) {
		return nil
	}
	return els[l.nth]
}

func (l *locator) state(state engine.ElementState) bool {
	d := l.scope.dom()
	el := l.element()
	d.mu.Lock()
	defer d.mu.Unlock()
	switch state {
	case engine.StateAttached:
		return el != nil
	case engine.StateHidden:
		return el == nil || !el.Visible
	default:
		return el != nil && el.Visible
	}
}

func (l *locator) WaitFor(ctx context.Context, state engine.ElementState) error {
	for {
		if l.state(state) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q to be %s: %w", l.selector, state, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (l *locator) with(fn func(el *Element) error) error {
	el := l.element()
	if el == nil {
		return fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	d := l.scope.dom()
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(el)
}

func (l *locator) Click(ctx context.Context) error {
	var hook func()
	err := l.with(func(el *Element) error {
		el.Clicks++
		hook = el.OnClick
		return nil
	})
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (l *locator) Fill(ctx context.Context, value string) error {
	return l.with(func(el *Element) error { el.Value = value; return nil })
}

func (l *locator) Check(ctx context.Context) error {
	return l.with(func(el *Element) error { el.Checked = true; return nil })
}

func (l *locator) Hover(ctx context.Context) error {
	return l.with(func(el *Element) error {
		if el.HoverErr != nil {
			return el.HoverErr
		}
		el.Hovers++
		return nil
	})
}

func (l *locator) SelectOption(ctx context.Context, value string) error {
	return l.with(func(el *Element) error { el.Value = value; return nil })
}

func (l *locator) ScrollIntoView(ctx context.Context) error {
	return l.with(func(el *Element) error { el.Scrolled++; return nil })
}

func (l *locator) TextContent(ctx context.Context) (string, error) {
	var text string
	err := l.with(func(el *Element) error { text = el.Text; return nil })
	return text, err
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	return l.state(engine.StateVisible), nil
}

func (l *locator) Count(ctx context.Context) (int, error) {
	return len(l.scope.dom().lookup(l.selector)), nil
}

func (l *locator) Nth(i int) engine.Locator {
	return &locator{scope: l.scope, selector: l.selector, nth: i}
}

func (l *locator) ContentFrame(ctx context.Context) (engine.Frame, error) {
	f := l.scope.dom().frame(l.selector)
	if f == nil {
		return nil, fmt.Errorf("%q: %w", l.selector, engine.ErrNotFound)
	}
	return frame{f}, nil
}

type frame struct{ doc *FrameDoc }

func (f frame) WaitForLoadState(ctx context.Context, state engine.LoadState) error {
	return f.doc.LoadErr
}
