package runner

import (
	"context"
	"errors"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/executor"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// runCases 顺序执行用例，abort 策略下第一个失败后停止
func (r *Runner) runCases(ctx context.Context, x *run) {
	if len(x.req.TestCases) == 0 {
		x.fail(ErrNoTestCases.Error())
		return
	}
	for _, tc := range x.req.TestCases {
		if err := ctx.Err(); err != nil {
			x.fail(err.Error())
			x.log.Warn("执行被取消", "error", err.Error())
			return
		}
		cr := r.runCase(ctx, x, tc)
		if cr.Status == domain.StatusFailed {
			x.fail(*cr.Error)
			if x.policy == domain.FailureAbort {
				x.log.Info("用例失败，终止后续用例", "caseID", int64(tc.ID))
				return
			}
		}
	}
}

// runCase 执行单个用例，无论成败都写入执行日志与用例结果
func (r *Runner) runCase(ctx context.Context, x *run, tc domain.TestCase) (cr domain.CaseResult) {
	l := x.log.With("caseID", int64(tc.ID), "caseName", tc.Name)
	start := time.Now()
	cr = domain.CaseResult{TestCaseID: tc.ID, TestName: tc.Name, Status: domain.StatusPassed}

	var (
		last *domain.StepResult
		temp engine.Context
	)
	defer func() {
		end := time.Now()
		if temp != nil {
			if err := temp.Close(context.WithoutCancel(ctx)); err != nil {
				l.Err(err, "关闭独立上下文失败")
			}
		}
		cr.DurationMS = end.Sub(start).Milliseconds()
		cr.ApplyStepResult(last)
		x.result.ExecutionLog = append(x.result.ExecutionLog, domain.ExecutionLogEntry{
			TestCaseID:   tc.ID,
			TestCaseName: tc.Name,
			StartTime:    start.UnixMilli(),
			EndTime:      end.UnixMilli(),
			Status:       cr.Status,
			Error:        cr.Error,
		})
		x.result.Results = append(x.result.Results, cr)
		x.sess.FinishCase()
		r.cfg.Metrics.observeCase(cr.Status)
		l.Info("用例结束", "status", cr.Status, "durationMs", cr.DurationMS)
	}()
	fail := func(err error) {
		cr.Status = domain.StatusFailed
		cr.Error = domain.StrPtr(err.Error())
	}

	x.sess.StartCase(tc.Name)
	settings := domain.SettingsFor(tc, x.req.Settings)
	// 新作用域同时清空源域名
	x.state.Reset(settings)
	x.rec.SetCase(tc.ID, tc.Name)

	page := x.page
	if tc.Mode() == domain.ModeSeparate {
		bc, err := r.openContext(ctx, x, x.opts)
		if err != nil {
			fail(err)
			return cr
		}
		temp = bc
		if page, err = bc.NewPage(ctx); err != nil {
			fail(err)
			return cr
		}
	}

	r.isolate(ctx, page, tc.Name, l)

	out, err := r.exec.RunCase(ctx, executor.Env{
		Page:        page,
		Settings:    settings,
		ArtifactDir: x.dir,
		Network:     x.rec,
		Log:         l,
	}, tc.Steps)
	if out != nil {
		last = out.Last
		x.shots = append(x.shots, out.Screenshots...)
	}
	if err != nil {
		var se *executor.StepError
		if errors.As(err, &se) && se.Result != nil {
			last = se.Result
		}
		fail(err)
	}
	return cr
}

// isolate 导航到空白页隔离上一个用例的状态，并发布用例名，失败只记录日志
func (r *Runner) isolate(ctx context.Context, page engine.Page, name string, l logger.Logger) {
	timeout := r.cfg.Runner.Timeouts.BlankPage
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Goto(bctx, "about:blank", engine.LoadStateDOMContentLoaded); err != nil {
		l.Debug("打开空白页失败，忽略", "error", err.Error())
	}
	if err := page.Evaluate(bctx, setTestNameScript(name)); err != nil {
		l.Debug("发布用例名失败，忽略", "error", err.Error())
	}
}
