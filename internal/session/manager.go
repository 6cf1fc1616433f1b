// Package session 跟踪正在执行的 run 及其所处阶段。
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// Phase run 的执行阶段
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseRunning    Phase = "running"
	PhaseFinalizing Phase = "finalizing"
)

// Run 一个活动 run
type Run struct {
	id        domain.RunID
	browser   domain.BrowserKind
	device    string
	total     int
	startedAt time.Time

	mu       sync.RWMutex
	phase    Phase
	caseName string
	done     int
}

// SetPhase 切换阶段
func (r *Run) SetPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// StartCase 记录正在执行的用例
func (r *Run) StartCase(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseRunning
	r.caseName = name
}

// FinishCase 用例结束，完成数加一
func (r *Run) FinishCase() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caseName = ""
	r.done++
}

// Snapshot run 的只读视图
func (r *Run) Snapshot() domain.ActiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.ActiveRun{
		RunID:       r.id,
		Browser:     r.browser,
		Device:      r.device,
		Phase:       string(r.phase),
		CurrentCase: r.caseName,
		Completed:   r.done,
		Total:       r.total,
		StartedAt:   r.startedAt,
	}
}

// Manager 全局活动 run 管理器
type Manager struct {
	mu   sync.RWMutex
	runs map[domain.RunID]*Run
	log  logger.Logger
}

// NewManager 创建管理器
func NewManager(l logger.Logger) *Manager {
	return &Manager{
		runs: make(map[domain.RunID]*Run),
		log:  logger.OrNop(l),
	}
}

// Create 登记新的 run，同一 run id 同时只能执行一次
func (m *Manager) Create(req domain.RunRequest) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[req.RunID]; ok {
		return nil, fmt.Errorf("run %d is already active", req.RunID)
	}
	r := &Run{
		id:        req.RunID,
		browser:   req.Browser,
		device:    req.Device,
		total:     len(req.TestCases),
		startedAt: time.Now(),
		phase:     PhasePreparing,
	}
	m.runs[req.RunID] = r
	m.log.Info("登记执行", "runID", int64(req.RunID), "cases", r.total)
	return r, nil
}

// Get 获取活动 run
func (m *Manager) Get(id domain.RunID) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// Delete 注销 run
func (m *Manager) Delete(id domain.RunID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	m.log.Info("注销执行", "runID", int64(id))
}

// List 返回所有活动 run，按开始时间排序
func (m *Manager) List() []domain.ActiveRun {
	m.mu.RLock()
	list := make([]domain.ActiveRun, 0, len(m.runs))
	for _, r := range m.runs {
		list = append(list, r.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].RunID < list[j].RunID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}
