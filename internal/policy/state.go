package policy

import (
	"sync"
	"sync/atomic"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// Scope 单个用例的拦截作用域：固定的设置值加上推断出的源域名
type Scope struct {
	settings domain.Settings

	mu     sync.Mutex
	source string
}

// NewScope 创建作用域，settings 会被复制
func NewScope(s domain.Settings) *Scope {
	return &Scope{settings: s.Clone()}
}

// Settings 返回作用域内的设置
func (s *Scope) Settings() domain.Settings { return s.settings }

// Source 当前源域名，未推断时为空
func (s *Scope) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// infer 第一个导航请求确定源域名，返回是否本次确定
func (s *Scope) infer(req *traffic.Request) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == "" && req.IsNavigation {
		if host := req.Hostname(); host != "" {
			s.source = host
			return s.source, true
		}
	}
	return s.source, false
}

// State 浏览上下文的拦截状态，切换用例时整体替换作用域
type State struct {
	cur atomic.Pointer[Scope]
	log logger.Logger
}

// NewState 以全局设置创建初始作用域
func NewState(global domain.Settings, l logger.Logger) *State {
	st := &State{log: logger.OrNop(l)}
	st.cur.Store(NewScope(global))
	return st
}

// Reset 安装新的用例作用域，源域名重新推断
func (st *State) Reset(settings domain.Settings) *Scope {
	sc := NewScope(settings)
	st.cur.Store(sc)
	return sc
}

// Current 当前作用域
func (st *State) Current() *Scope { return st.cur.Load() }

// Evaluate 用当前作用域计算判定结果
func (st *State) Evaluate(req *traffic.Request) Decision {
	sc := st.cur.Load()
	source, inferred := sc.infer(req)
	if inferred {
		st.log.Info("推断源域名", "source", source)
	}
	return Decide(req, sc.settings, source)
}
