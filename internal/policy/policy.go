// Package policy 决定每个出站请求需要注入的 headers 与 query 参数。
//
// 判定顺序：
//  1. 目标主机在 domain_settings 中有条目时，无条件注入其 headers/params
//  2. 用例内第一个导航请求的主机名记为源域名
//  3. 主机名匹配源域名或 allowed_domains 条目时，按权限注入全局 headers/params，
//     并把源域名的 domain_settings 扩散到匹配到的其他主机
//
// headers 为浅覆盖，优先级：全局 < 源域名扩散 < 目标主机专属。
// params 只在完全相同的键值对不存在时追加，重复应用结果不变。
package policy

import (
	"net/url"
	"sort"
	"strings"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// Decision 单个请求的判定结果
type Decision struct {
	URL     string
	Headers traffic.Header

	HeadersModified bool
	URLModified     bool
}

// Modified 请求是否需要改写
func (d Decision) Modified() bool { return d.HeadersModified || d.URLModified }

// Match 匹配到的注入权限
type Match struct {
	Source       bool
	Allowed      bool
	AllowHeaders bool
	AllowParams  bool
}

// Classify 判断主机名与源域名、允许列表的关系
func Classify(hostname string, s domain.Settings, source string) Match {
	var m Match
	m.Source = domain.MatchesDomain(hostname, source)
	if rule, ok := s.MatchAllowed(hostname); ok {
		m.Allowed = true
		m.AllowHeaders = rule.AllowHeaders
		m.AllowParams = rule.AllowParams
	}
	// 源域名下全部放行
	if m.Source {
		m.AllowHeaders = true
		m.AllowParams = true
	}
	return m
}

// Decide 计算请求的注入结果，不修改 req
func Decide(req *traffic.Request, s domain.Settings, source string) Decision {
	hostname := req.Hostname()
	d := Decision{URL: req.URL, Headers: req.Headers.Clone()}
	if d.Headers == nil {
		d.Headers = make(traffic.Header)
	}

	var layers []map[string]string

	own, hasOwn := s.Override(hostname)
	if hasOwn && len(own.Params) > 0 {
		d.URL = AppendParams(d.URL, own.Params)
	}

	m := Classify(hostname, s, source)
	if m.Source || m.Allowed {
		if m.AllowHeaders && len(s.Headers) > 0 {
			layers = append(layers, s.Headers)
		}
		if source != "" && hostname != source {
			if fan, ok := s.Override(source); ok {
				if m.AllowHeaders && len(fan.Headers) > 0 {
					layers = append(layers, fan.Headers)
				}
				if m.AllowParams && len(fan.Params) > 0 {
					d.URL = AppendParams(d.URL, fan.Params)
				}
			}
		}
		if m.AllowParams && len(s.Params) > 0 {
			d.URL = AppendParams(d.URL, s.Params)
		}
	}

	if hasOwn && len(own.Headers) > 0 {
		layers = append(layers, own.Headers)
	}
	for _, l := range layers {
		d.Headers.Merge(l)
		d.HeadersModified = true
	}
	d.URLModified = d.URL != req.URL
	return d
}

// AppendParams 追加 query 参数，已存在相同键值对时跳过；URL 非法时原样返回
func AppendParams(raw string, params map[string]string) string {
	if len(params) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	existing := u.Query()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(u.RawQuery)
	for _, k := range keys {
		v := params[k]
		if contains(existing[k], v) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
		existing.Add(k, v)
	}
	if b.String() == u.RawQuery {
		return raw
	}
	u.RawQuery = b.String()
	return u.String()
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
