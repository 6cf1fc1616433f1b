package api

import (
	"context"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/runner"
	"github.com/raja-9679/TraceIQ-sub000/internal/service"
	"github.com/raja-9679/TraceIQ-sub000/internal/storage"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// Service 服务接口
type Service interface {
	// RunTest 执行一次请求，测试失败体现在结果中，error 只表示结果未能保存
	RunTest(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error)

	// GetRun 获取已完成的执行结果
	GetRun(ctx context.Context, id domain.RunID) (*domain.RunResult, error)

	// ListRuns 列出最近的执行
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// ActiveRuns 列出正在执行的 run
	ActiveRuns() []domain.ActiveRun
}

// NewService 创建并返回服务接口实现
func NewService(r *runner.Runner, repo *storage.RunRepo, l logger.Logger) Service {
	return service.New(r, repo, l)
}
