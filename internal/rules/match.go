// Package rules 实现步骤断言：比较运算、URL 通配、JSON 与 XML 断言。
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrAssertion 所有断言失败都包装该错误
var ErrAssertion = errors.New("assertion failed")

// AssertionError 断言失败，携带期望值与实际值
type AssertionError struct {
	Target   string
	Expected string
	Actual   string
	Msg      string
}

func (e *AssertionError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("expected %s to be %q but got %q", e.Target, e.Expected, e.Actual)
}

func (e *AssertionError) Unwrap() error { return ErrAssertion }

// Failf 构造断言失败
func Failf(target, expected, actual, format string, args ...any) *AssertionError {
	return &AssertionError{Target: target, Expected: expected, Actual: actual, Msg: fmt.Sprintf(format, args...)}
}

// 比较运算符
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpRegex    = "regex"
	OpExists   = "exists"
	OpGTE      = "gte"
	OpLTE      = "lte"
)

// CompareCount 数量比较
func CompareCount(op string, actual, expected int) error {
	switch op {
	case OpGTE:
		if actual < expected {
			return Failf("count", fmt.Sprint(expected), fmt.Sprint(actual), "Expected at least %d children, found %d", expected, actual)
		}
	case OpLTE:
		if actual > expected {
			return Failf("count", fmt.Sprint(expected), fmt.Sprint(actual), "Expected at most %d children, found %d", expected, actual)
		}
	case "", OpEquals:
		if actual != expected {
			return Failf("count", fmt.Sprint(expected), fmt.Sprint(actual), "Expected %d children, found %d", expected, actual)
		}
	default:
		return fmt.Errorf("unknown count operator %q", op)
	}
	return nil
}

// MatchURL 按通配规则匹配 URL：** 匹配任意字符，* 不跨越 /，{a,b} 为候选
func MatchURL(u, pattern string) bool {
	if !strings.ContainsAny(pattern, "*{") {
		return u == pattern
	}
	re, err := regexCache.Get(globToRegex(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(u)
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	inGroup := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '*' && i+1 < len(glob) && glob[i+1] == '*':
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '{':
			inGroup = true
			b.WriteString("(")
		case c == '}' && inGroup:
			inGroup = false
			b.WriteString(")")
		case c == ',' && inGroup:
			b.WriteString("|")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

type regexpCache struct {
	m sync.Map
}

var regexCache = &regexpCache{}

// Get 返回编译后的正则，结果会被缓存
func (c *regexpCache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.m.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.m.Store(pattern, re)
	return re, nil
}
