// Package service 组合编排器、活动 run 管理器与执行历史，实现对外服务接口。
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raja-9679/TraceIQ-sub000/internal/ctxkeys"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/runner"
	"github.com/raja-9679/TraceIQ-sub000/internal/storage"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// ErrNoHistory 未配置执行历史存储
var ErrNoHistory = errors.New("run history is not configured")

// Service 服务实现
type Service struct {
	runner *runner.Runner
	repo   *storage.RunRepo
	log    logger.Logger
}

// New 创建服务，repo 为 nil 时不保存执行历史
func New(r *runner.Runner, repo *storage.RunRepo, l logger.Logger) *Service {
	return &Service{runner: r, repo: repo, log: logger.OrNop(l)}
}

// RunTest 执行并保存结果，保存失败时仍返回结果
func (s *Service) RunTest(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	if ctxkeys.TraceID(ctx) == "" {
		ctx = ctxkeys.WithTraceID(ctx, uuid.NewString())
	}
	res := s.runner.RunTest(ctx, req)
	if s.repo == nil {
		return res, nil
	}
	if err := s.repo.Save(context.WithoutCancel(ctx), res); err != nil {
		s.log.Err(err, "保存执行结果失败", "runID", int64(req.RunID))
		return res, err
	}
	return res, nil
}

// GetRun 读取已保存的结果
func (s *Service) GetRun(ctx context.Context, id domain.RunID) (*domain.RunResult, error) {
	if s.repo == nil {
		return nil, ErrNoHistory
	}
	if _, active := s.runner.Sessions().Get(id); active {
		return nil, fmt.Errorf("run %d is still running", id)
	}
	return s.repo.Get(ctx, id)
}

// ListRuns 最近的执行摘要
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if s.repo == nil {
		return nil, ErrNoHistory
	}
	return s.repo.List(ctx, limit)
}

// ActiveRuns 正在执行的 run
func (s *Service) ActiveRuns() []domain.ActiveRun {
	return s.runner.Sessions().List()
}
