package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

func newReq(u string, nav bool) *traffic.Request {
	r := traffic.NewRequest()
	r.URL = u
	r.Method = "GET"
	r.IsNavigation = nav
	return r
}

func settingsFrom(t *testing.T, src string) domain.Settings {
	t.Helper()
	var s domain.Settings
	require.NoError(t, json.Unmarshal([]byte(src), &s))
	return s
}

func TestAppendParamsDedup(t *testing.T) {
	got := AppendParams("https://a.test/p?v=1", map[string]string{"v": "2"})
	assert.Equal(t, "https://a.test/p?v=1&v=2", got)

	again := AppendParams(got, map[string]string{"v": "2"})
	assert.Equal(t, got, again)

	assert.Equal(t, "https://a.test/p?v=1", AppendParams("https://a.test/p?v=1", map[string]string{"v": "1"}))
	assert.Equal(t, "not a url", AppendParams("not a url", map[string]string{"v": "1"}))
}

func TestDecideSourceDomainGetsGlobals(t *testing.T) {
	s := settingsFrom(t, `{"headers":{"X-Test":"1"},"params":{"v":"2"}}`)

	d := Decide(newReq("https://a.test/", true), s, "a.test")
	assert.True(t, d.HeadersModified)
	assert.Equal(t, "1", d.Headers.Get("x-test"))
	assert.Equal(t, "https://a.test/?v=2", d.URL)

	sub := Decide(newReq("https://api.a.test/x", false), s, "a.test")
	assert.Equal(t, "1", sub.Headers.Get("X-Test"))

	other := Decide(newReq("https://b.test/", false), s, "a.test")
	assert.False(t, other.Modified())
}

func TestDecideAllowListPermissions(t *testing.T) {
	s := settingsFrom(t, `{
		"headers":{"X-Test":"1"},
		"params":{"v":"2"},
		"allowed_domains":[{"domain":"cdn.test","headers":false,"params":true}, "partner.test"]
	}`)

	cdn := Decide(newReq("https://img.cdn.test/a.png", false), s, "a.test")
	assert.Equal(t, "https://img.cdn.test/a.png?v=2", cdn.URL)
	assert.Empty(t, cdn.Headers.Get("X-Test"))
	assert.False(t, cdn.HeadersModified)

	partner := Decide(newReq("https://partner.test/", false), s, "a.test")
	assert.Equal(t, "1", partner.Headers.Get("X-Test"))
	assert.False(t, partner.URLModified)

	unrelated := Decide(newReq("https://evil.test/", false), s, "a.test")
	assert.False(t, unrelated.Modified())
}

func TestDecideDomainOverrideIsUnconditional(t *testing.T) {
	s := settingsFrom(t, `{
		"headers":{"X-Env":"global"},
		"domain_settings":{"stats.test":{"headers":{"X-Env":"stats"},"params":{"k":"1"}}}
	}`)
	d := Decide(newReq("https://stats.test/collect", false), s, "")
	assert.Equal(t, "stats", d.Headers.Get("X-Env"))
	assert.Equal(t, "https://stats.test/collect?k=1", d.URL)
}

func TestDecideDomainOverrideKeyIgnoresCase(t *testing.T) {
	s := settingsFrom(t, `{
		"headers":{"X-Env":"global"},
		"allowed_domains":["api.test"],
		"domain_settings":{"API.Test":{"headers":{"X-Env":"api"}}}
	}`)
	d := Decide(newReq("https://API.test/v1", false), s, "a.test")
	assert.Equal(t, "api", d.Headers.Get("X-Env"))
}

func TestDecideSourceOverrideFansOut(t *testing.T) {
	s := settingsFrom(t, `{
		"allowed_domains":[{"domain":"cdn.test","headers":true,"params":true}],
		"domain_settings":{"a.test":{"headers":{"X-Src":"yes"},"params":{"src":"a"}}}
	}`)

	sub := Decide(newReq("https://m.a.test/", false), s, "a.test")
	assert.Equal(t, "yes", sub.Headers.Get("X-Src"))
	assert.Equal(t, "https://m.a.test/?src=a", sub.URL)

	cdn := Decide(newReq("https://cdn.test/lib.js", false), s, "a.test")
	assert.Equal(t, "yes", cdn.Headers.Get("X-Src"))
	assert.Equal(t, "https://cdn.test/lib.js?src=a", cdn.URL)

	// 源域名自身走专属配置，不重复扩散
	own := Decide(newReq("https://a.test/", true), s, "a.test")
	assert.Equal(t, "https://a.test/?src=a", own.URL)
}

func TestDecideIdempotent(t *testing.T) {
	s := settingsFrom(t, `{
		"headers":{"X-Test":"1"},
		"params":{"v":"2"},
		"allowed_domains":[{"domain":"cdn.test","params":true}],
		"domain_settings":{"a.test":{"headers":{"X-A":"a"},"params":{"p":"1"}}}
	}`)
	for _, target := range []string{"https://a.test/x?v=2", "https://cdn.test/y", "https://w.a.test/z"} {
		first := Decide(newReq(target, false), s, "a.test")

		replay := newReq(first.URL, false)
		replay.Headers = first.Headers.Clone()
		second := Decide(replay, s, "a.test")

		assert.Equal(t, first.URL, second.URL, target)
		assert.Equal(t, first.Headers, second.Headers, target)
		assert.False(t, second.URLModified, target)
	}
}

func TestStateSourceResetPerCase(t *testing.T) {
	global := settingsFrom(t, `{"headers":{"X-Test":"1"}}`)
	st := NewState(global, nil)

	st.Reset(global)
	// 非导航请求不推断源域名
	assert.False(t, st.Evaluate(newReq("https://a.test/api", false)).Modified())
	assert.True(t, st.Evaluate(newReq("https://a.test/", true)).HeadersModified)
	assert.Equal(t, "a.test", st.Current().Source())
	assert.False(t, st.Evaluate(newReq("https://b.test/", true)).Modified())

	st.Reset(global)
	assert.Empty(t, st.Current().Source())
	assert.True(t, st.Evaluate(newReq("https://b.test/", true)).HeadersModified)
	assert.Equal(t, "b.test", st.Current().Source())
	assert.False(t, st.Evaluate(newReq("https://a.test/", false)).Modified())
}

func TestStateAllowListIsolation(t *testing.T) {
	st := NewState(domain.Settings{}, nil)

	withAllow := settingsFrom(t, `{"headers":{"X-Test":"1"},"allowed_domains":["cdn.test"]}`)
	sc := st.Reset(withAllow)
	assert.True(t, st.Evaluate(newReq("https://cdn.test/", false)).HeadersModified)

	// 设置值被复制，外部修改不影响作用域
	withAllow.AllowedDomains[0].Domain = "mutated.test"
	assert.Equal(t, "cdn.test", sc.Settings().AllowedDomains[0].Domain)

	st.Reset(settingsFrom(t, `{"headers":{"X-Test":"1"}}`))
	assert.False(t, st.Evaluate(newReq("https://cdn.test/", false)).Modified())
}
