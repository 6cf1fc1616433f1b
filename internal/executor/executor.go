// Package executor 按顺序执行单个用例的步骤。
//
// 执行上下文只有两种：顶层页面，或 switch-frame 切入的 frame。
// 导航类步骤始终作用于顶层页面。
package executor

import (
	"context"
	"net/http"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// Observer 每个步骤结束后回调，用于指标统计
type Observer func(kind step.Kind, elapsed time.Duration, err error)

// Config 执行器配置
type Config struct {
	Runner     config.Runner
	HTTPClient *http.Client
	Logger     logger.Logger
	Observer   Observer
	// CarouselSettle 点击轮播 next 后的等待
	CarouselSettle time.Duration
}

// NetworkSink 接收执行器直接发出的请求记录
type NetworkSink interface {
	Append(ev domain.NetworkEvent)
}

// Env 单个用例的执行环境
type Env struct {
	Page        engine.Page
	Settings    domain.Settings
	ArtifactDir string
	Network     NetworkSink
	Log         logger.Logger
}

// Outcome 用例执行的汇总
type Outcome struct {
	// Last 最后一个 http-request/feed-check 的结果
	Last        *domain.StepResult
	Screenshots []string
	Executed    int
}

// Result 单个步骤的产出
type Result struct {
	Step       *domain.StepResult
	Screenshot string
}

// Executor 步骤解释器
type Executor struct {
	cfg    config.Runner
	client *http.Client
	log    logger.Logger
	obs    Observer
	settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// New 创建执行器，零值字段使用默认配置
func New(cfg Config) *Executor {
	r := cfg.Runner
	def := config.DefaultRunner()
	if r.GotoAttempts <= 0 {
		r.GotoAttempts = def.GotoAttempts
	}
	if r.DefaultTimeout <= 0 {
		r.DefaultTimeout = def.DefaultTimeout
	}
	if r.Timeouts == (config.Timeouts{}) {
		r.Timeouts = def.Timeouts
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	settle := cfg.CarouselSettle
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Executor{
		cfg:    r,
		client: client,
		log:    logger.OrNop(cfg.Logger),
		obs:    cfg.Observer,
		settle: settle,
		sleep:  sleep,
	}
}

// RunCase 顺序执行步骤，第一个失败即停止并返回 *StepError
func (e *Executor) RunCase(ctx context.Context, env Env, steps step.List) (*Outcome, error) {
	if env.Log == nil {
		env.Log = e.log
	}
	l := env.Log

	out := &Outcome{}
	var scope engine.Scope = env.Page
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return out, &StepError{Index: i, Kind: s.Kind(), Err: err}
		}
		start := time.Now()

		if sf, ok := s.(step.SwitchFrame); ok {
			scope = e.switchFrame(ctx, env, scope, sf)
			e.observe(s.Kind(), start, nil)
			out.Executed++
			continue
		}

		res, err := e.ExecuteStep(ctx, env, scope, s)
		e.observe(s.Kind(), start, err)
		out.Executed++
		if res.Step != nil {
			out.Last = res.Step
		}
		if res.Screenshot != "" {
			out.Screenshots = append(out.Screenshots, res.Screenshot)
		}
		if err != nil {
			l.Err(err, "步骤失败", "index", i, "type", s.Kind())
			return out, &StepError{Index: i, Kind: s.Kind(), Err: err, Result: res.Step}
		}
	}
	return out, nil
}

func (e *Executor) observe(kind step.Kind, start time.Time, err error) {
	if e.obs != nil {
		e.obs(kind, time.Since(start), err)
	}
}

// ExecuteStep 在指定作用域内执行单个步骤
func (e *Executor) ExecuteStep(ctx context.Context, env Env, scope engine.Scope, s step.Step) (Result, error) {
	l := logger.OrNop(env.Log)
	l.Debug("执行步骤", "type", s.Kind(), "step", s)

	switch s := s.(type) {
	case step.Goto:
		return Result{}, e.gotoURL(ctx, env, s)
	case step.Click:
		return Result{}, e.interact(ctx, env, scope, s.Selector, func(c context.Context, loc engine.Locator) error { return loc.Click(c) })
	case step.Fill:
		return Result{}, e.interact(ctx, env, scope, s.Selector, func(c context.Context, loc engine.Locator) error { return loc.Fill(c, s.Value) })
	case step.Check:
		return Result{}, e.interact(ctx, env, scope, s.Selector, func(c context.Context, loc engine.Locator) error { return loc.Check(c) })
	case step.SwitchFrame:
		// 由 RunCase 处理
		return Result{}, nil
	case step.ExpectVisible:
		return Result{}, e.waitState(ctx, scope, s.Selector, engine.StateVisible, e.cfg.Timeouts.Visible)
	case step.ExpectHidden:
		return Result{}, e.waitState(ctx, scope, s.Selector, engine.StateHidden, e.cfg.Timeouts.Hidden)
	case step.WaitForSelector:
		return Result{}, e.waitState(ctx, scope, s.Selector, engine.StateAttached, e.cfg.Timeouts.Visible)
	case step.ExpectText:
		return Result{}, e.expectText(ctx, scope, s)
	case step.ExpectURL:
		return Result{}, e.expectURL(ctx, env.Page, s.Pattern)
	case step.Hover:
		return Result{}, e.act(ctx, scope, s.Selector, func(c context.Context, loc engine.Locator) error { return loc.Hover(c) })
	case step.SelectOption:
		return Result{}, e.selectOption(ctx, env, scope, s)
	case step.PressKey:
		return Result{}, e.pressKey(ctx, env.Page, s.Key)
	case step.Screenshot:
		path, err := e.screenshot(ctx, env, s)
		return Result{Screenshot: path}, err
	case step.ScrollTo:
		return Result{}, e.act(ctx, scope, s.Selector, func(c context.Context, loc engine.Locator) error { return loc.ScrollIntoView(c) })
	case step.WaitTimeout:
		return Result{}, e.sleep(ctx, s.Duration)
	case step.HTTPRequest:
		res, err := e.httpRequest(ctx, env, s)
		return Result{Step: res}, err
	case step.FeedCheck:
		res, err := e.feedCheck(ctx, env, s)
		return Result{Step: res}, err
	case step.CarouselFind:
		return Result{}, e.carouselFind(ctx, env, scope, s)
	case step.VerifyNthChild:
		return Result{}, e.verifyNthChild(ctx, scope, s)
	case step.CountChildren:
		return Result{}, e.countChildren(ctx, scope, s)
	case step.Invalid:
		return Result{}, s.Err
	case step.Unknown:
		l.Warn("未知步骤类型，跳过", "type", s.Type)
		return Result{}, nil
	default:
		l.Warn("未处理的步骤类型，跳过", "type", s.Kind())
		return Result{}, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
