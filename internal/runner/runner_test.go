package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raja-9679/TraceIQ-sub000/internal/artifact"
	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine/enginetest"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

const bucket = "test-artifacts"

func fastRunner() config.Runner {
	r := config.DefaultRunner()
	r.DefaultTimeout = 200 * time.Millisecond
	r.GotoBackoff = time.Millisecond
	r.Timeouts = config.Timeouts{
		Visible:    50 * time.Millisecond,
		Hidden:     50 * time.Millisecond,
		Text:       50 * time.Millisecond,
		URL:        50 * time.Millisecond,
		Frame:      50 * time.Millisecond,
		Navigation: time.Second,
		HTTP:       2 * time.Second,
		NthChild:   50 * time.Millisecond,
		Probe:      20 * time.Millisecond,
		BlankPage:  50 * time.Millisecond,
	}
	return r
}

type harness struct {
	launcher *enginetest.Launcher
	store    *artifact.LocalStore
	scratch  string
	metrics  *Metrics
	runner   *Runner
}

func newHarness(t *testing.T, opts enginetest.Options, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		launcher: enginetest.NewLauncher(opts),
		store:    artifact.NewLocalStore(t.TempDir()),
		scratch:  t.TempDir(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	cfg := Config{
		Provider:    engine.NewHandle(h.launcher, nil),
		Store:       h.store,
		Bucket:      bucket,
		ArtifactDir: h.scratch,
		Runner:      fastRunner(),
		Video:       config.Video{Enabled: true},
		Metrics:     h.metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.runner = New(cfg)
	return h
}

func (h *harness) context(t *testing.T, i int) *enginetest.Context {
	t.Helper()
	browsers := h.launcher.Browsers()
	require.NotEmpty(t, browsers)
	contexts := browsers[len(browsers)-1].Contexts()
	require.Greater(t, len(contexts), i)
	return contexts[i]
}

func (h *harness) stored(t *testing.T, key string) bool {
	t.Helper()
	_, err := os.Stat(h.store.Path(bucket, key))
	return err == nil
}

func TestRunTestPassed(t *testing.T) {
	h := newHarness(t, enginetest.Options{
		Setup: func(p *enginetest.Page) { p.DOM.Visible("#login", "Sign in") },
		Subresources: map[string][]string{
			"https://app.test/": {"https://cdn.test/app.js", "https://other.test/x.js"},
		},
	}, nil)

	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID: 1,
		Settings: domain.Settings{
			Headers:        map[string]string{"X-Trace": "1"},
			AllowedDomains: []domain.DomainRule{{Domain: "cdn.test", AllowHeaders: true}},
		},
		TestCases: []domain.TestCase{
			{ID: 1, Name: "open", Steps: step.List{
				step.Goto{URL: "https://app.test/"},
				step.ExpectVisible{Selector: "#login"},
				step.Screenshot{Name: "home"},
			}},
			{ID: 2, Name: "click", Steps: step.List{step.Click{Selector: "#login"}, step.Screenshot{Name: "home"}}},
		},
	})

	require.Equal(t, domain.StatusPassed, res.Status, "error: %v", res.Error)
	assert.Nil(t, res.Error)
	require.Len(t, res.ExecutionLog, 2)
	for _, e := range res.ExecutionLog {
		assert.Equal(t, domain.StatusPassed, e.Status)
		assert.Nil(t, e.Error)
		assert.LessOrEqual(t, e.StartTime, e.EndTime)
	}
	require.Len(t, res.Results, 2)
	assert.Equal(t, "click", res.Results[1].TestName)

	// 产物上传并清理临时目录
	require.NotNil(t, res.Trace)
	assert.Equal(t, "runs/1/trace.zip", *res.Trace)
	assert.True(t, h.stored(t, *res.Trace))
	require.NotNil(t, res.Video)
	assert.Equal(t, "runs/1/video.webm", *res.Video)
	assert.True(t, h.stored(t, *res.Video))
	// 同名截图分别上传
	require.Len(t, res.Screenshots, 2)
	assert.NotEqual(t, res.Screenshots[0], res.Screenshots[1])
	for _, k := range res.Screenshots {
		assert.Regexp(t, `^runs/1/screenshots/home-[0-9a-f]{8}\.png$`, k)
		assert.True(t, h.stored(t, k))
	}
	assert.Empty(t, res.ArtifactErrors)
	_, err := os.Stat(filepath.Join(h.scratch, "1"))
	assert.True(t, os.IsNotExist(err))

	// 网络事件与首个文档响应
	require.Len(t, res.NetworkEvents, 3)
	for _, ev := range res.NetworkEvents {
		assert.Equal(t, "open", ev.TestCaseName)
		assert.Equal(t, domain.TestCaseID(1), ev.TestCaseID)
	}
	require.NotNil(t, res.ResponseStatus)
	assert.Equal(t, 200, *res.ResponseStatus)
	assert.Equal(t, "1", res.RequestHeaders["x-trace"])

	// 注入策略：源域名与允许列表注入，其他域名不注入
	bc := h.context(t, 0)
	assert.Equal(t, "1", bc.SentTo("app.test")[0].Headers.Get("x-trace"))
	assert.Equal(t, "1", bc.SentTo("cdn.test")[0].Headers.Get("x-trace"))
	assert.Empty(t, bc.SentTo("other.test")[0].Headers.Get("x-trace"))

	require.Len(t, bc.InitScripts, 1)
	assert.Contains(t, bc.InitScripts[0], `"CHROMIUM"`)
	assert.True(t, bc.Closed())
	page := bc.Pages()[0]
	assert.Contains(t, page.Evaluated, `window.__TRACEIQ_TEST_NAME__ = "open"`)
	assert.Contains(t, page.Evaluated, `window.__TRACEIQ_TEST_NAME__ = "click"`)
	assert.Equal(t, 2, count(page.Attempts, "about:blank"))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.runs.WithLabelValues("passed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.cases.WithLabelValues("passed")))
	assert.Empty(t, h.runner.Sessions().List())
}

func count(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}

func TestRunTestAbortsAfterFailure(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID: 2,
		TestCases: []domain.TestCase{
			{ID: 1, Name: "broken", Steps: step.List{step.ExpectVisible{Selector: "#missing"}}},
			{ID: 2, Name: "never", Steps: step.List{step.Goto{URL: "https://app.test/next"}}},
		},
	})

	assert.Equal(t, domain.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "#missing")
	require.Len(t, res.ExecutionLog, 1)
	assert.Equal(t, domain.StatusFailed, res.ExecutionLog[0].Status)
	require.NotNil(t, res.ExecutionLog[0].Error)
	assert.Equal(t, *res.Error, *res.ExecutionLog[0].Error)

	page := h.context(t, 0).Pages()[0]
	assert.NotContains(t, page.Attempts, "https://app.test/next")
	// 失败时仍然上传产物
	require.NotNil(t, res.Trace)
	assert.True(t, h.stored(t, *res.Trace))
	require.NotNil(t, res.Video)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.runs.WithLabelValues("failed")))
}

func TestRunTestContinuePolicy(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:         3,
		FailurePolicy: domain.FailureContinue,
		TestCases: []domain.TestCase{
			{ID: 1, Name: "broken", Steps: step.List{step.ExpectVisible{Selector: "#missing"}}},
			{ID: 2, Name: "fine", Steps: step.List{step.Goto{URL: "https://app.test/"}}},
		},
	})

	assert.Equal(t, domain.StatusFailed, res.Status)
	require.Len(t, res.ExecutionLog, 2)
	assert.Equal(t, domain.StatusFailed, res.ExecutionLog[0].Status)
	assert.Equal(t, domain.StatusPassed, res.ExecutionLog[1].Status)
	assert.Contains(t, *res.Error, "#missing")
}

func TestRunTestSettingsSwap(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:    4,
		Settings: domain.Settings{Headers: map[string]string{"X-Global": "g"}},
		TestCases: []domain.TestCase{
			{ID: 1, Name: "global", Steps: step.List{step.Goto{URL: "https://app.test/"}}},
			{ID: 2, Name: "own", Settings: &domain.Settings{Headers: map[string]string{"X-Case": "2"}},
				Steps: step.List{step.Goto{URL: "https://app.test/"}}},
			{ID: 3, Name: "back", Steps: step.List{step.Goto{URL: "https://app.test/"}}},
		},
	})
	require.Equal(t, domain.StatusPassed, res.Status)

	sent := h.context(t, 0).SentTo("app.test")
	require.Len(t, sent, 3)
	assert.Equal(t, "g", sent[0].Headers.Get("x-global"))
	assert.Empty(t, sent[0].Headers.Get("x-case"))
	assert.Equal(t, "2", sent[1].Headers.Get("x-case"))
	assert.Empty(t, sent[1].Headers.Get("x-global"), "case settings replace global settings")
	assert.Equal(t, "g", sent[2].Headers.Get("x-global"))
	assert.Empty(t, sent[2].Headers.Get("x-case"))
}

func TestRunTestNoCases(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{RunID: 5})

	assert.Equal(t, domain.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "No test cases provided", *res.Error)
	assert.Empty(t, res.ExecutionLog)
	require.NotNil(t, res.Trace, "finalisation still runs")
	assert.True(t, h.context(t, 0).Closed())
}

func TestRunTestSeparateContext(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:  6,
		Device: "Mobile (Generic)",
		TestCases: []domain.TestCase{
			{ID: 1, Name: "shared", Steps: step.List{step.Goto{URL: "https://app.test/a"}}},
			{ID: 2, Name: "isolated", ExecutionMode: domain.ModeSeparate,
				Steps: step.List{step.Goto{URL: "https://app.test/b"}}},
		},
	})
	require.Equal(t, domain.StatusPassed, res.Status, "error: %v", res.Error)

	shared, temp := h.context(t, 0), h.context(t, 1)
	assert.True(t, temp.Closed())
	assert.Len(t, temp.InitScripts, 1)
	require.NotNil(t, temp.Options.Emulation)
	assert.Equal(t, 375, temp.Options.Emulation.Viewport.Width)
	assert.Empty(t, temp.Options.RecordVideoDir)
	assert.NotEmpty(t, shared.Options.RecordVideoDir)

	assert.Len(t, shared.SentTo("app.test"), 1)
	assert.Len(t, temp.SentTo("app.test"), 1)
	require.Len(t, res.NetworkEvents, 2)
	assert.Equal(t, "isolated", res.NetworkEvents[1].TestCaseName)
}

func TestRunTestOverlayFailureIgnored(t *testing.T) {
	h := newHarness(t, enginetest.Options{InitScriptErr: errors.New("csp")}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:     7,
		TestCases: []domain.TestCase{{ID: 1, Name: "a", Steps: step.List{step.Goto{URL: "https://app.test/"}}}},
	})
	assert.Equal(t, domain.StatusPassed, res.Status)
}

func TestRunTestTracingUnavailable(t *testing.T) {
	h := newHarness(t, enginetest.Options{TraceErr: errors.New("start tracing: Tracing has already been started")}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:     12,
		TestCases: []domain.TestCase{{ID: 1, Name: "a", Steps: step.List{step.Goto{URL: "https://app.test/"}}}},
	})
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Nil(t, res.Trace)
	require.NotNil(t, res.Video)
	assert.Empty(t, res.ArtifactErrors)
	assert.Zero(t, h.context(t, 0).TraceStops)
}

func TestRunTestLaunchFailure(t *testing.T) {
	h := newHarness(t, enginetest.Options{LaunchErr: errors.New("no chromium")}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:     8,
		TestCases: []domain.TestCase{{ID: 1, Name: "a"}},
	})
	assert.Equal(t, domain.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "no chromium")
	assert.Empty(t, res.ExecutionLog)
	assert.Nil(t, res.Trace)
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, bucket, key, localPath string) error {
	return errors.New("bucket unavailable")
}

func TestRunTestUploadFailureKeepsStatus(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, func(c *Config) { c.Store = failingStore{} })
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID:     9,
		TestCases: []domain.TestCase{{ID: 1, Name: "a", Steps: step.List{step.Goto{URL: "https://app.test/"}}}},
	})
	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Nil(t, res.Trace)
	assert.Nil(t, res.Video)
	require.Len(t, res.ArtifactErrors, 2)
	for _, e := range res.ArtifactErrors {
		assert.Contains(t, e, "bucket unavailable")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.uploadFailure.WithLabelValues("trace")))
	_, err := os.Stat(filepath.Join(h.scratch, "9"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunTestKeepsFailedStepResult(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer api.Close()

	h := newHarness(t, enginetest.Options{}, nil)
	res := h.runner.RunTest(context.Background(), domain.RunRequest{
		RunID: 10,
		TestCases: []domain.TestCase{{ID: 1, Name: "api", Steps: step.List{
			step.HTTPRequest{Method: http.MethodGet, URL: api.URL + "/health",
				Assertions: []step.Assertion{{Type: "status", Value: "200"}}},
		}}},
	})
	assert.Equal(t, domain.StatusFailed, res.Status)
	require.Len(t, res.Results, 1)
	cr := res.Results[0]
	require.NotNil(t, cr.ResponseStatus)
	assert.Equal(t, 500, *cr.ResponseStatus)
	require.NotNil(t, cr.ResponseBody)
	assert.Equal(t, "boom", *cr.ResponseBody)
	require.NotNil(t, cr.RequestURL)
	assert.True(t, strings.HasSuffix(*cr.RequestURL, "/health"))
	require.Len(t, res.NetworkEvents, 1)
	assert.Equal(t, "api", res.NetworkEvents[0].TestCaseName)
}

func TestRunTestRejectsActiveRun(t *testing.T) {
	h := newHarness(t, enginetest.Options{}, nil)
	_, err := h.runner.Sessions().Create(domain.RunRequest{RunID: 11})
	require.NoError(t, err)

	res := h.runner.RunTest(context.Background(), domain.RunRequest{RunID: 11, TestCases: []domain.TestCase{{ID: 1}}})
	assert.Equal(t, domain.StatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "already active")
	assert.Empty(t, h.launcher.Browsers())
	_, ok := h.runner.Sessions().Get(11)
	assert.True(t, ok, "the active run keeps its registration")
}

func TestOverlayScript(t *testing.T) {
	s := overlayScript(domain.BrowserFirefox, `iPhone "13"`, domain.BrowserWebKit)
	assert.Contains(t, s, `"FIREFOX"`)
	assert.Contains(t, s, `"as webkit"`)
	assert.Contains(t, s, `"iPhone \"13\""`)
	assert.Contains(t, s, "#ff7139")
	assert.Contains(t, s, `"__TRACEIQ_TEST_NAME__"`)
	assert.NotContains(t, s, "%!")

	same := overlayScript(domain.BrowserChromium, "", domain.BrowserChromium)
	assert.Contains(t, same, `note = ""`)
}
