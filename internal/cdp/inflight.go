package cdp

import (
	"time"

	"github.com/mafredri/cdp/protocol/network"

	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// inflightTTL 未收到响应的请求最多保留的时长
const inflightTTL = 2 * time.Minute

type flight struct {
	method  string
	headers traffic.Header
	at      time.Time
}

// inflight 请求 id 到方法与实际请求头的映射，响应、失败或过期后释放
//
// 不加锁，由所属 Page 的 mu 保护。
type inflight struct {
	ttl       time.Duration
	entries   map[network.RequestID]*flight
	lastSweep time.Time
}

func newInflight(ttl time.Duration) *inflight {
	if ttl <= 0 {
		ttl = inflightTTL
	}
	return &inflight{ttl: ttl, entries: make(map[network.RequestID]*flight)}
}

func (f *inflight) entry(id network.RequestID, now time.Time) *flight {
	f.sweep(now)
	e, ok := f.entries[id]
	if !ok {
		e = &flight{at: now}
		f.entries[id] = e
	}
	return e
}

// begin 记录请求，拦截阶段已写入的改写后请求头优先
func (f *inflight) begin(id network.RequestID, method string, headers traffic.Header, now time.Time) {
	e := f.entry(id, now)
	e.method = method
	if e.headers == nil {
		e.headers = headers
	}
}

// rewrite 记录拦截改写后实际发出的请求头
func (f *inflight) rewrite(id network.RequestID, headers traffic.Header, now time.Time) {
	f.entry(id, now).headers = headers
}

// finish 取出并释放请求记录
func (f *inflight) finish(id network.RequestID) (string, traffic.Header) {
	e, ok := f.entries[id]
	if !ok {
		return "", nil
	}
	delete(f.entries, id)
	return e.method, e.headers
}

// sweep 清理过期记录，两次清理至少间隔 ttl/4
func (f *inflight) sweep(now time.Time) {
	if !f.lastSweep.IsZero() && now.Sub(f.lastSweep) < f.ttl/4 {
		return
	}
	f.lastSweep = now
	for id, e := range f.entries {
		if now.Sub(e.at) > f.ttl {
			delete(f.entries, id)
		}
	}
}

func (f *inflight) len() int { return len(f.entries) }
