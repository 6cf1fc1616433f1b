// Package capture 记录浏览上下文的网络事件。
package capture

import (
	"sync"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// DefaultPendingTTL 未完成请求在开始时间表中的保留时长
const DefaultPendingTTL = 2 * time.Minute

// Legacy 第一个成功的顶层文档响应
type Legacy struct {
	Status          int
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
}

type pending struct {
	start time.Time
}

// Recorder 网络事件记录器，回调可与步骤执行交错调用
type Recorder struct {
	mu        sync.Mutex
	ttl       time.Duration
	starts    map[string]pending
	caseID    domain.TestCaseID
	caseName  string
	events    []domain.NetworkEvent
	legacy    *Legacy
	evicted   int
	lastSweep time.Time
	log       logger.Logger
}

// NewRecorder 创建记录器，ttl <= 0 使用默认值
func NewRecorder(ttl time.Duration, log logger.Logger) *Recorder {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Recorder{ttl: ttl, starts: make(map[string]pending), log: logger.OrNop(log)}
}

// SetCase 设置后续事件归属的用例
func (r *Recorder) SetCase(id domain.TestCaseID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caseID = id
	r.caseName = name
}

// OnRequest 记录请求开始时间
func (r *Recorder) OnRequest(ev engine.RequestEvent) {
	if ev.Request == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(ev.At)
	r.starts[ev.Request.ID] = pending{start: ev.At}
}

// sweepLocked 清理超过 ttl 仍未收到响应的请求，两次清理至少间隔 ttl/4
func (r *Recorder) sweepLocked(now time.Time) {
	if !r.lastSweep.IsZero() && now.Sub(r.lastSweep) < r.ttl/4 {
		return
	}
	r.lastSweep = now
	for id, p := range r.starts {
		if now.Sub(p.start) > r.ttl {
			delete(r.starts, id)
			r.evicted++
			r.log.Debug("清理未完成请求", "requestId", id)
		}
	}
}

// OnResponse 计算耗时并追加网络事件
func (r *Recorder) OnResponse(ev engine.ResponseEvent) {
	res := ev.Response
	if res == nil {
		return
	}
	end := ev.At
	if end.IsZero() {
		end = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := end
	if p, ok := r.starts[res.RequestID]; ok {
		start = p.start
		delete(r.starts, res.RequestID)
	}

	reqHeaders := map[string]string(ev.RequestHeaders.Clone())
	resHeaders := map[string]string(res.Headers.Clone())
	r.events = append(r.events, domain.NetworkEvent{
		TestCaseID:      r.caseID,
		TestCaseName:    r.caseName,
		URL:             res.URL,
		Method:          res.Method,
		ResourceType:    res.ResourceType,
		Status:          res.StatusCode,
		StartTime:       start.UnixMilli(),
		EndTime:         end.UnixMilli(),
		Duration:        end.Sub(start).Milliseconds(),
		RequestHeaders:  reqHeaders,
		ResponseHeaders: resHeaders,
	})

	if r.legacy == nil && res.IsMainDocument && res.StatusCode > 0 && res.StatusCode < 400 {
		r.legacy = &Legacy{Status: res.StatusCode, RequestHeaders: reqHeaders, ResponseHeaders: resHeaders}
	}
}

// Append 追加由执行器直接发出的请求事件
func (r *Recorder) Append(ev domain.NetworkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.TestCaseID == 0 && ev.TestCaseName == "" {
		ev.TestCaseID = r.caseID
		ev.TestCaseName = r.caseName
	}
	r.events = append(r.events, ev)
}

// Events 返回事件副本
func (r *Recorder) Events() []domain.NetworkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NetworkEvent{}, r.events...)
}

// Legacy 返回第一个成功的顶层文档响应
func (r *Recorder) Legacy() (Legacy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.legacy == nil {
		return Legacy{}, false
	}
	return *r.legacy, true
}

// Pending 等待响应的请求数
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

// Evicted 因超时被清理的请求数
func (r *Recorder) Evicted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}
