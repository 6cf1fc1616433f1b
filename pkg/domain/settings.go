package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Settings 请求注入配置，用例之间整体替换，不做合并
type Settings struct {
	Headers        map[string]string         `json:"headers,omitempty"`
	Params         map[string]string         `json:"params,omitempty"`
	AllowedDomains []DomainRule              `json:"allowed_domains,omitempty"`
	DomainSettings map[string]DomainOverride `json:"domain_settings,omitempty"`
}

// DomainRule 允许列表中的域名及其注入权限
type DomainRule struct {
	Domain       string `json:"domain"`
	AllowHeaders bool   `json:"headers"`
	AllowParams  bool   `json:"params"`
}

// DomainOverride 指定域名的 headers/params
type DomainOverride struct {
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// UnmarshalJSON 兼容纯字符串写法：等价于 {headers:true, params:false}
func (r *DomainRule) UnmarshalJSON(b []byte) error {
	var legacy string
	if err := json.Unmarshal(b, &legacy); err == nil {
		*r = DomainRule{Domain: normalizeDomain(legacy), AllowHeaders: true}
		return nil
	}
	var raw struct {
		Domain       string `json:"domain"`
		Headers      *bool  `json:"headers"`
		Params       *bool  `json:"params"`
		AllowHeaders *bool  `json:"allow_headers"`
		AllowParams  *bool  `json:"allow_params"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid domain rule: %w", err)
	}
	headers := raw.Headers
	if raw.AllowHeaders != nil {
		headers = raw.AllowHeaders
	}
	params := raw.Params
	if raw.AllowParams != nil {
		params = raw.AllowParams
	}
	*r = DomainRule{
		Domain:       normalizeDomain(raw.Domain),
		AllowHeaders: headers == nil || *headers,
		AllowParams:  params != nil && *params,
	}
	return nil
}

// Matches 主机名等于该域名或为其子域名
func (r DomainRule) Matches(hostname string) bool {
	return MatchesDomain(hostname, r.Domain)
}

// MatchesDomain 判断 hostname 是否等于 domain 或为其子域名
func MatchesDomain(hostname, domain string) bool {
	if hostname == "" || domain == "" {
		return false
	}
	return hostname == domain || strings.HasSuffix(hostname, "."+domain)
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// Clone 深拷贝，保证每个用例持有独立的设置值
func (s Settings) Clone() Settings {
	out := Settings{
		Headers: cloneMap(s.Headers),
		Params:  cloneMap(s.Params),
	}
	if len(s.AllowedDomains) > 0 {
		out.AllowedDomains = append([]DomainRule(nil), s.AllowedDomains...)
	}
	if len(s.DomainSettings) > 0 {
		out.DomainSettings = make(map[string]DomainOverride, len(s.DomainSettings))
		for k, v := range s.DomainSettings {
			out.DomainSettings[normalizeDomain(k)] = DomainOverride{Headers: cloneMap(v.Headers), Params: cloneMap(v.Params)}
		}
	}
	return out
}

// Override 返回指定域名的覆盖配置，域名不区分大小写
func (s Settings) Override(hostname string) (DomainOverride, bool) {
	hostname = normalizeDomain(hostname)
	if hostname == "" || s.DomainSettings == nil {
		return DomainOverride{}, false
	}
	if o, ok := s.DomainSettings[hostname]; ok {
		return o, true
	}
	for k, o := range s.DomainSettings {
		if normalizeDomain(k) == hostname {
			return o, true
		}
	}
	return DomainOverride{}, false
}

// MatchAllowed 返回第一个匹配主机名的允许列表条目
func (s Settings) MatchAllowed(hostname string) (DomainRule, bool) {
	for _, r := range s.AllowedDomains {
		if r.Matches(hostname) {
			return r, true
		}
	}
	return DomainRule{}, false
}

// SettingsFor 用例设置优先，否则回落到全局设置
func SettingsFor(tc TestCase, global Settings) Settings {
	if tc.Settings != nil {
		return tc.Settings.Clone()
	}
	return global.Clone()
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
