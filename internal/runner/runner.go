// Package runner 编排一次执行：准备引擎与浏览上下文，按顺序执行用例，收尾上传产物。
//
// RunTest 不返回错误，所有失败都体现在 RunResult 的 Status/Error 中。
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/artifact"
	"github.com/raja-9679/TraceIQ-sub000/internal/capture"
	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/emulation"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/executor"
	"github.com/raja-9679/TraceIQ-sub000/internal/handler"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/policy"
	"github.com/raja-9679/TraceIQ-sub000/internal/session"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// ErrNoTestCases 请求中没有用例
var ErrNoTestCases = errors.New("No test cases provided")

// finalizeTimeout 收尾阶段（停止追踪、关闭上下文、上传）的上限
const finalizeTimeout = 2 * time.Minute

// Config 编排器配置
type Config struct {
	Provider engine.Provider
	Store    artifact.Store
	Bucket   string
	// ArtifactDir 临时产物根目录，每个 run 使用 {ArtifactDir}/{runId}
	ArtifactDir string
	Runner      config.Runner
	Video       config.Video
	Devices     *emulation.Registry
	Sessions    *session.Manager
	Metrics     *Metrics
	HTTPClient  *http.Client
	Logger      logger.Logger
}

// Runner 执行编排器
type Runner struct {
	cfg      Config
	exec     *executor.Executor
	devices  *emulation.Registry
	sessions *session.Manager
	log      logger.Logger
}

// New 创建编排器
func New(cfg Config) *Runner {
	l := logger.OrNop(cfg.Logger)
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(os.TempDir(), "artifacts")
	}
	devices := cfg.Devices
	if devices == nil {
		devices = emulation.Default()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager(l)
	}
	return &Runner{
		cfg: cfg,
		exec: executor.New(executor.Config{
			Runner:     cfg.Runner,
			HTTPClient: cfg.HTTPClient,
			Logger:     l,
			Observer:   cfg.Metrics.observeStep,
		}),
		devices:  devices,
		sessions: sessions,
		log:      l,
	}
}

// Sessions 活动 run 管理器
func (r *Runner) Sessions() *session.Manager { return r.sessions }

// run 一次执行的可变状态，只在 RunTest 的协程中使用
type run struct {
	req     domain.RunRequest
	kind    domain.BrowserKind
	policy  domain.FailurePolicy
	dir     string
	opts    engine.ContextOptions
	overlay string
	log     logger.Logger

	sess     *session.Run
	rec      *capture.Recorder
	state    *policy.State
	route    *handler.Handler
	browser  engine.Browser
	release  func()
	shared   engine.Context
	page     engine.Page
	shots    []string
	result   *domain.RunResult
	start    time.Time
	duration time.Duration
}

func (x *run) fail(msg string) {
	x.result.Status = domain.StatusFailed
	if x.result.Error == nil {
		x.result.Error = domain.StrPtr(msg)
	}
}

// RunTest 执行一次请求
func (r *Runner) RunTest(ctx context.Context, req domain.RunRequest) *domain.RunResult {
	x, err := r.prepare(req)
	if err != nil {
		x.fail(err.Error())
		x.log.Err(err, "执行准备失败")
		return x.result
	}
	defer r.sessions.Delete(req.RunID)

	x.log.Info("开始执行", "cases", len(req.TestCases), "device", req.Device, "failurePolicy", x.policy)
	if err := r.setup(ctx, x); err != nil {
		x.fail(err.Error())
		x.log.Err(err, "初始化浏览上下文失败")
	} else {
		r.runCases(ctx, x)
	}
	x.duration = time.Since(x.start)

	x.sess.SetPhase(session.PhaseFinalizing)
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	r.finalize(fctx, x)

	r.cfg.Metrics.observeRun(x.result.Status, time.Since(x.start))
	x.log.Info("执行结束", "status", x.result.Status, "durationMs", x.result.DurationMS,
		"networkEvents", len(x.result.NetworkEvents), "artifactErrors", len(x.result.ArtifactErrors))
	return x.result
}

// prepare 计算本次执行的参数并登记 run
func (r *Runner) prepare(req domain.RunRequest) (*run, error) {
	kind := req.Browser
	if kind == "" {
		kind = domain.BrowserChromium
	}
	fp := req.FailurePolicy
	if fp == "" {
		fp = r.cfg.Runner.FailurePolicy
	}
	if fp == "" {
		fp = domain.FailureAbort
	}
	x := &run{
		req:    req,
		kind:   kind,
		policy: fp,
		dir:    filepath.Join(r.cfg.ArtifactDir, strconv.FormatInt(int64(req.RunID), 10)),
		log:    r.log.With("runID", int64(req.RunID), "browser", string(kind)),
		start:  time.Now(),
		result: &domain.RunResult{
			RunID:         req.RunID,
			Status:        domain.StatusPassed,
			Screenshots:   []string{},
			NetworkEvents: []domain.NetworkEvent{},
			ExecutionLog:  []domain.ExecutionLogEntry{},
			Results:       []domain.CaseResult{},
		},
	}
	sess, err := r.sessions.Create(req)
	if err != nil {
		return x, err
	}
	x.sess = sess

	desc := r.devices.Resolve(req.Device, kind)
	if req.Device != "" && desc == nil {
		x.log.Warn("未知设备，不做模拟", "device", req.Device)
	}
	x.opts = engine.ContextOptions{Emulation: desc, DefaultTimeout: r.cfg.Runner.DefaultTimeout}
	var emulatedAs domain.BrowserKind
	if desc != nil {
		emulatedAs = desc.EmulatedAs
	}
	x.overlay = overlayScript(kind, req.Device, emulatedAs)
	x.rec = capture.NewRecorder(r.cfg.Runner.PendingRequestTTL, x.log)
	x.state = policy.NewState(req.Settings, x.log)
	x.route = handler.New(handler.Config{State: x.state, Logger: x.log})
	return x, nil
}

// setup 获取引擎并打开共享上下文与页面
func (r *Runner) setup(ctx context.Context, x *run) error {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	b, release, err := r.cfg.Provider.Acquire(ctx, x.kind)
	if err != nil {
		return err
	}
	// 引擎在收尾关闭上下文后归还
	x.browser, x.release = b, release

	opts := x.opts
	if r.cfg.Video.Enabled {
		opts.RecordVideoDir = x.dir
	}
	bc, err := r.openContext(ctx, x, opts)
	if err != nil {
		return err
	}
	x.shared = bc
	if err := bc.StartTracing(ctx); err != nil {
		x.log.Warn("启动追踪失败", "error", err.Error())
	}
	page, err := bc.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	x.page = page
	return nil
}

// openContext 创建配置好监听、拦截与覆盖层的浏览上下文
func (r *Runner) openContext(ctx context.Context, x *run, opts engine.ContextOptions) (engine.Context, error) {
	bc, err := x.browser.NewContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	bc.OnRequest(x.rec.OnRequest)
	bc.OnResponse(x.rec.OnResponse)
	if err := bc.Route(x.route.HandleRoute); err != nil {
		_ = bc.Close(ctx)
		return nil, fmt.Errorf("install route: %w", err)
	}
	// 覆盖层只用于调试，失败不影响执行
	if err := bc.AddInitScript(ctx, x.overlay); err != nil {
		x.log.Warn("注入调试覆盖层失败", "error", err.Error())
	}
	return bc, nil
}
