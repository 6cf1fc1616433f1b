package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainRuleUnmarshal(t *testing.T) {
	var rules []DomainRule
	src := `["Legacy.test", {"domain":"cdn.test","headers":false,"params":true}, {"domain":"api.test"}, {"domain":"x.test","allow_params":true}]`
	require.NoError(t, json.Unmarshal([]byte(src), &rules))
	require.Len(t, rules, 4)

	assert.Equal(t, DomainRule{Domain: "legacy.test", AllowHeaders: true, AllowParams: false}, rules[0])
	assert.Equal(t, DomainRule{Domain: "cdn.test", AllowHeaders: false, AllowParams: true}, rules[1])
	assert.Equal(t, DomainRule{Domain: "api.test", AllowHeaders: true, AllowParams: false}, rules[2])
	assert.Equal(t, DomainRule{Domain: "x.test", AllowHeaders: true, AllowParams: true}, rules[3])
}

func TestMatchesDomain(t *testing.T) {
	assert.True(t, MatchesDomain("a.test", "a.test"))
	assert.True(t, MatchesDomain("www.a.test", "a.test"))
	assert.False(t, MatchesDomain("evila.test", "a.test"))
	assert.False(t, MatchesDomain("", "a.test"))
}

func TestSettingsForIsolation(t *testing.T) {
	global := Settings{Headers: map[string]string{"X-Test": "1"}}
	withAllow := TestCase{Settings: &Settings{AllowedDomains: []DomainRule{{Domain: "cdn.test"}}}}
	plain := TestCase{Settings: &Settings{Headers: map[string]string{"A": "b"}}}

	first := SettingsFor(withAllow, global)
	require.Len(t, first.AllowedDomains, 1)

	second := SettingsFor(plain, global)
	assert.Empty(t, second.AllowedDomains)
	assert.Equal(t, "b", second.Headers["A"])

	fallback := SettingsFor(TestCase{}, global)
	assert.Equal(t, "1", fallback.Headers["X-Test"])
	fallback.Headers["X-Test"] = "mutated"
	assert.Equal(t, "1", global.Headers["X-Test"])
}

func TestParseBrowserKind(t *testing.T) {
	k, err := ParseBrowserKind("")
	require.NoError(t, err)
	assert.Equal(t, BrowserChromium, k)

	k, err = ParseBrowserKind("Firefox")
	require.NoError(t, err)
	assert.Equal(t, BrowserFirefox, k)
	assert.False(t, k.SupportsMobileFlag())

	_, err = ParseBrowserKind("netscape")
	assert.Error(t, err)
}

func TestOverrideIgnoresCase(t *testing.T) {
	s := Settings{DomainSettings: map[string]DomainOverride{
		"API.Test": {Headers: map[string]string{"X-Api": "1"}},
	}}
	o, ok := s.Override("api.test")
	require.True(t, ok)
	assert.Equal(t, "1", o.Headers["X-Api"])

	c := s.Clone()
	require.Contains(t, c.DomainSettings, "api.test")
	o, ok = c.Override("API.test")
	require.True(t, ok)
	assert.Equal(t, "1", o.Headers["X-Api"])

	_, ok = s.Override("other.test")
	assert.False(t, ok)
}
