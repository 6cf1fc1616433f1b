package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine/enginetest"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/rules"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

func fastRunner() config.Runner {
	r := config.DefaultRunner()
	r.DefaultTimeout = 200 * time.Millisecond
	r.GotoBackoff = time.Millisecond
	r.Timeouts = config.Timeouts{
		Visible:    100 * time.Millisecond,
		Hidden:     100 * time.Millisecond,
		Text:       100 * time.Millisecond,
		URL:        300 * time.Millisecond,
		Frame:      50 * time.Millisecond,
		Navigation: time.Second,
		HTTP:       2 * time.Second,
		NthChild:   100 * time.Millisecond,
		Probe:      20 * time.Millisecond,
		BlankPage:  50 * time.Millisecond,
	}
	return r
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type sink struct{ events []domain.NetworkEvent }

func (s *sink) Append(ev domain.NetworkEvent) { s.events = append(s.events, ev) }

func newExecutor(t *testing.T) (*Executor, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	e := New(Config{
		Runner:         fastRunner(),
		Logger:         logger.NewWriter(buf, zerolog.DebugLevel),
		CarouselSettle: time.Millisecond,
	})
	return e, buf
}

func run(t *testing.T, e *Executor, page *enginetest.Page, steps ...step.Step) (*Outcome, error) {
	t.Helper()
	return e.RunCase(context.Background(), Env{Page: page, ArtifactDir: t.TempDir()}, steps)
}

func TestGotoRetriesTransientFailures(t *testing.T) {
	e, buf := newExecutor(t)
	page := enginetest.NewPage()
	page.NavFailures = 2

	_, err := run(t, e, page, step.Goto{URL: "https://a.test/"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.AttemptCount())
	assert.Contains(t, buf.String(), "导航失败")

	u, _ := page.URL(context.Background())
	assert.Equal(t, "https://a.test/", u)
}

func TestGotoReturnsLastFailure(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.NavFailures = 3

	_, err := run(t, e, page, step.Goto{URL: "https://a.test/"})
	require.Error(t, err)
	assert.Equal(t, 3, page.AttemptCount())
	assert.Contains(t, err.Error(), "net::ERR_CONNECTION_RESET")

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Index)
	assert.Equal(t, step.KindGoto, se.Kind)
}

func TestGotoAppendsGlobalParams(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	env := Env{Page: page, Settings: domain.Settings{Params: map[string]string{"v": "2"}}}

	_, err := e.RunCase(context.Background(), env, step.List{
		step.Goto{URL: "https://a.test/?v=2"},
		step.Goto{URL: "https://a.test/home"},
		step.Goto{URL: "about:blank"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test/?v=2", "https://a.test/home?v=2", "about:blank"}, page.Attempts)
}

func TestInteractionsHoverBestEffort(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	btn := page.DOM.Visible("#buy", "Buy")
	btn.HoverErr = errors.New("covered by overlay")
	input := page.DOM.Visible("#email", "")
	box := page.DOM.Visible("#terms", "")

	_, err := run(t, e, page,
		step.Click{Selector: "#buy"},
		step.Fill{Selector: "#email", Value: "ada@a.test"},
		step.Check{Selector: "#terms"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, btn.Clicks)
	assert.Equal(t, "ada@a.test", input.Value)
	assert.True(t, box.Checked)
	assert.Equal(t, 1, box.Hovers)
}

func TestVisibilityTimeoutFailsStep(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Add("#hidden", &enginetest.Element{Visible: false})

	out, err := run(t, e, page,
		step.ExpectHidden{Selector: "#hidden"},
		step.Click{Selector: "#missing"},
		step.Click{Selector: "#never"},
	)
	require.Error(t, err)
	assert.Equal(t, 2, out.Executed)

	var we *WaitError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "#missing", we.Selector)
	assert.Equal(t, engine.StateVisible, we.State)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "step 2 (click)")
}

func TestUnknownStepIsSkipped(t *testing.T) {
	e, buf := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible("#ok", "")

	out, err := run(t, e, page, step.Unknown{Type: "teleport"}, step.ExpectVisible{Selector: "#ok"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Executed)
	assert.Contains(t, buf.String(), "teleport")
}

func TestSwitchFrameStrictLifecycleWarns(t *testing.T) {
	e, buf := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible("#main", "")

	_, err := run(t, e, page,
		step.SwitchFrame{Target: "#late-frame", StrictLifecycle: true},
		step.SwitchFrame{Target: "main"},
		step.Click{Selector: "#main"},
	)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "frame 生命周期握手失败")
}

func TestSwitchFrameScopesLocators(t *testing.T) {
	e, buf := newExecutor(t)
	page := enginetest.NewPage()
	frame := page.DOM.AddFrame("#checkout")
	pay := frame.Visible("#pay", "Pay now")
	outside := page.DOM.Visible("#pay", "decoy")

	_, err := run(t, e, page,
		step.SwitchFrame{Target: "#checkout", StrictLifecycle: true},
		step.Click{Selector: "#pay"},
		step.ExpectText{Selector: "#pay", Expected: "Pay"},
		step.Goto{URL: "https://a.test/done"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, pay.Clicks)
	assert.Equal(t, 0, outside.Clicks)
	assert.NotContains(t, buf.String(), "握手失败")
	assert.Equal(t, []string{"https://a.test/done"}, page.Attempts)
}

func TestSwitchFrameNests(t *testing.T) {
	e, buf := newExecutor(t)
	page := enginetest.NewPage()
	outer := page.DOM.AddFrame("#outer")
	buy := outer.AddFrame("#inner").Visible("#buy", "Buy")
	top := page.DOM.Visible("#top", "")

	_, err := run(t, e, page,
		step.SwitchFrame{Target: "#outer"},
		step.SwitchFrame{Target: "#inner", StrictLifecycle: true},
		step.Click{Selector: "#buy"},
		step.SwitchFrame{Target: "top"},
		step.Click{Selector: "#top"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, buy.Clicks)
	assert.Equal(t, 1, top.Clicks)
	assert.NotContains(t, buf.String(), "握手失败")
}

func TestExpectTextMismatch(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible("h1", "Welcome back")

	_, err := run(t, e, page, step.ExpectText{Selector: "h1", Expected: "Goodbye"})
	var ae *rules.AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Goodbye", ae.Expected)
	assert.Equal(t, "Welcome back", ae.Actual)
	assert.ErrorIs(t, err, rules.ErrAssertion)
}

func TestExpectURL(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.SetURL("https://a.test/login")
	go func() {
		time.Sleep(50 * time.Millisecond)
		page.SetURL("https://a.test/home")
	}()

	_, err := run(t, e, page, step.ExpectURL{Pattern: "https://a.test/home"})
	require.NoError(t, err)

	_, err = run(t, e, page, step.ExpectURL{Pattern: "https://b.test/*"})
	var we *WaitError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "https://a.test/home", we.Last)
}

func TestCarouselFind(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	slide := &enginetest.Element{Visible: false}
	page.DOM.Add("#slide-3", slide)
	next := page.DOM.Visible(".next", "")
	next.OnClick = func() {
		if next.Clicks >= 2 {
			page.DOM.Update(func() { slide.Visible = true })
		}
	}

	_, err := run(t, e, page, step.CarouselFind{Target: "#slide-3", Next: ".next", MaxSwipes: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Clicks)

	_, err = run(t, e, page, step.CarouselFind{Target: "#none", Next: ".next", MaxSwipes: 2})
	require.Error(t, err)
	assert.Equal(t, "Could not find target '#none' in carousel after 2 attempts", errors.Unwrap(err).Error())

	_, err = run(t, e, page, step.CarouselFind{Target: "#none", Next: ".missing", MaxSwipes: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Carousel next button '.missing' not found/visible")
}

func TestVerifyNthChild(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible("li", "Alpha")
	page.DOM.Visible("li", "Beta")

	_, err := run(t, e, page, step.VerifyNthChild{Selector: "li", Index: 1, Text: "Be"})
	require.NoError(t, err)

	_, err = run(t, e, page, step.VerifyNthChild{Selector: "li", Index: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Index 5 out of bounds (found 2 elements for 'li')")

	_, err = run(t, e, page, step.VerifyNthChild{Selector: "li", Index: 0, Text: "Gamma"})
	assert.ErrorIs(t, err, rules.ErrAssertion)
}

func TestCountChildren(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible(".card", "")
	page.DOM.Visible(".card", "")
	page.DOM.Visible(".card", "")

	_, err := run(t, e, page,
		step.CountChildren{Selector: ".card", Expected: 3, Operator: "equals"},
		step.CountChildren{Selector: ".card", Expected: 2, Operator: "gte"},
		step.CountChildren{Selector: ".empty", Expected: 0, Operator: "equals"},
	)
	require.NoError(t, err)

	_, err = run(t, e, page, step.CountChildren{Selector: ".card", Expected: 2, Operator: "lte"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected at most 2 children, found 3")
}

func TestPageLevelSteps(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	opt := page.DOM.Visible("select", "")
	row := page.DOM.Visible("#footer", "")
	dir := t.TempDir()

	out, err := e.RunCase(context.Background(), Env{Page: page, ArtifactDir: dir}, step.List{
		step.SelectOption{Selector: "select", Value: "de"},
		step.ScrollTo{Selector: "#footer"},
		step.PressKey{Key: "Enter"},
		step.WaitTimeout{Duration: time.Millisecond},
		step.Screenshot{Name: "checkout"},
		step.Screenshot{Name: "checkout"},
		step.Screenshot{},
	})
	require.NoError(t, err)
	assert.Equal(t, "de", opt.Value)
	assert.Equal(t, 1, row.Scrolled)
	assert.Equal(t, []string{"Enter"}, page.Pressed)

	require.Len(t, out.Screenshots, 3)
	for _, p := range out.Screenshots {
		assert.Equal(t, dir, filepath.Dir(p))
		assert.FileExists(t, p)
	}
	assert.Regexp(t, `checkout-[0-9a-f]{8}\.png$`, out.Screenshots[0])
	assert.Regexp(t, `checkout-[0-9a-f]{8}\.png$`, out.Screenshots[1])
	assert.NotEqual(t, out.Screenshots[0], out.Screenshots[1])
	assert.Regexp(t, `screenshot-[0-9a-f]{8}\.png$`, out.Screenshots[2])
}

func TestInvalidStepFailsCase(t *testing.T) {
	e, _ := newExecutor(t)
	page := enginetest.NewPage()
	page.DOM.Visible("#ok", "")

	var steps step.List
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"expect-visible","selector":"#ok"},
		{"type":"wait-timeout","value":"soon"},
		{"type":"expect-visible","selector":"#ok"}
	]`), &steps))

	out, err := run(t, e, page, steps...)
	require.Error(t, err)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Index)
	assert.Equal(t, step.KindWaitTimeout, se.Kind)
	assert.Contains(t, err.Error(), `invalid timeout "soon"`)
	assert.Equal(t, 2, out.Executed)
}

func TestSelectOptionRequiresValue(t *testing.T) {
	e, _ := newExecutor(t)
	_, err := run(t, e, enginetest.NewPage(), step.SelectOption{Selector: "select"})
	assert.EqualError(t, errors.Unwrap(err), "select-option requires selector and value")
}

func TestHTTPRequestStep(t *testing.T) {
	var gotHeaders http.Header
	var gotQuery string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": 42, "name": "widget"}})
	}))
	defer srv.Close()

	e, _ := newExecutor(t)
	net := &sink{}
	env := Env{
		Page:    enginetest.NewPage(),
		Network: net,
		Settings: domain.Settings{
			Headers: map[string]string{"X-Test": "1", "X-Env": "global"},
			Params:  map[string]string{"v": "2"},
		},
	}
	out, err := e.RunCase(context.Background(), env, step.List{step.HTTPRequest{
		Method:   "POST",
		URL:      srv.URL + "/items",
		Headers:  map[string]string{"X-Env": "step"},
		Params:   map[string]string{"debug": "1"},
		Body:     []byte(`{"name":"widget"}`),
		JSONBody: true,
		Assertions: []step.Assertion{
			{Type: "status", Value: "201"},
			{Type: "json-path", Path: "data.id", Value: "42"},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, "1", gotHeaders.Get("X-Test"))
	assert.Equal(t, "step", gotHeaders.Get("X-Env"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "debug=1&v=2", gotQuery)
	assert.JSONEq(t, `{"name":"widget"}`, string(gotBody))

	require.NotNil(t, out.Last)
	assert.Equal(t, "http-request", out.Last.Type)
	assert.Equal(t, 201, out.Last.Status)
	assert.Equal(t, "POST", out.Last.Request.Method)
	assert.Equal(t, `{"name":"widget"}`, out.Last.Request.Body)
	assert.Contains(t, out.Last.Body, "widget")

	require.Len(t, net.events, 1)
	assert.Equal(t, 201, net.events[0].Status)
	assert.Equal(t, "POST", net.events[0].Method)
}

func TestHTTPRequestAssertionFailureKeepsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	e, _ := newExecutor(t)
	_, err := run(t, e, enginetest.NewPage(), step.HTTPRequest{
		Method:     "GET",
		URL:        srv.URL,
		Assertions: []step.Assertion{{Type: "status", Value: "200"}},
	})
	var se *StepError
	require.ErrorAs(t, err, &se)
	require.NotNil(t, se.Result)
	assert.Equal(t, 500, se.Result.Status)
	assert.Equal(t, "boom", se.Result.Body)
	assert.Contains(t, err.Error(), "Expected status 200 but got 500")
}

const rss = `<?xml version="1.0"?><rss><channel><title>Deals</title><item><title>Lamp</title></item></channel></rss>`

func TestFeedCheckStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "1", r.Header.Get("X-Test"))
		assert.Equal(t, "2", r.URL.Query().Get("v"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	e, _ := newExecutor(t)
	env := Env{
		Page:     enginetest.NewPage(),
		Settings: domain.Settings{Headers: map[string]string{"X-Test": "1"}, Params: map[string]string{"v": "2"}},
	}
	out, err := e.RunCase(context.Background(), env, step.List{step.FeedCheck{
		URL: srv.URL + "/feed",
		Assertions: []step.Assertion{
			{Type: "xpath", Path: "//channel/title", Operator: "equals", Value: "Deals"},
			{Type: "text", Value: "Lamp"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, "feed-check", out.Last.Type)

	_, err = e.RunCase(context.Background(), env, step.List{step.FeedCheck{URL: srv.URL + "/missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to fetch feed: 404")
}

func TestObserverSeesEveryStep(t *testing.T) {
	var kinds []step.Kind
	e := New(Config{
		Runner: fastRunner(),
		Observer: func(kind step.Kind, _ time.Duration, _ error) {
			kinds = append(kinds, kind)
		},
	})
	page := enginetest.NewPage()
	_, err := e.RunCase(context.Background(), Env{Page: page}, step.List{
		step.Goto{URL: "https://a.test/"},
		step.SwitchFrame{Target: "top"},
		step.PressKey{Key: "Tab"},
	})
	require.NoError(t, err)
	assert.Equal(t, []step.Kind{step.KindGoto, step.KindSwitchFrame, step.KindPressKey}, kinds)
}

func TestRunCaseStopsOnCancel(t *testing.T) {
	e, _ := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.RunCase(ctx, Env{Page: enginetest.NewPage()}, step.List{step.PressKey{Key: "a"}})
	assert.ErrorIs(t, err, context.Canceled)
}
