package step

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Raw 步骤的 JSON 形态
type Raw struct {
	ID       any             `json:"id,omitempty"`
	Type     string          `json:"type"`
	Selector string          `json:"selector,omitempty"`
	Value    Text            `json:"value,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

// Text 接受字符串、数字、布尔值；其他 JSON 值保留原文
type Text string

// UnmarshalJSON 实现 json.Unmarshaler
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

func (t Text) String() string { return string(t) }

type rawParams struct {
	WaitUntil       string          `json:"wait_until"`
	Method          string          `json:"method"`
	Headers         map[string]Text `json:"headers"`
	Params          map[string]Text `json:"params"`
	Body            json.RawMessage `json:"body"`
	Assertions      []Assertion     `json:"assertions"`
	MaxSwipes       int             `json:"max_swipes"`
	Text            Text            `json:"text"`
	Operator        string          `json:"operator"`
	StrictLifecycle bool            `json:"strict_lifecycle"`
}

// Parse 将 JSON 形态转换为具体步骤
func Parse(r Raw) (Step, error) {
	var p, o rawParams
	if len(r.Params) > 0 && !bytes.Equal(r.Params, []byte("null")) {
		if err := json.Unmarshal(r.Params, &p); err != nil {
			return nil, fmt.Errorf("step %s: invalid params: %w", r.Type, err)
		}
	}
	if len(r.Options) > 0 && !bytes.Equal(r.Options, []byte("null")) {
		if err := json.Unmarshal(r.Options, &o); err != nil {
			return nil, fmt.Errorf("step %s: invalid options: %w", r.Type, err)
		}
	}
	value := r.Value.String()
	// 多数步骤两个字段都接受，优先 selector
	target := firstNonEmpty(r.Selector, value)
	// 导航类步骤优先 value
	input := firstNonEmpty(value, r.Selector)

	switch Kind(r.Type) {
	case KindGoto:
		wu := WaitUntil(p.WaitUntil)
		if wu == "" {
			wu = WaitDOMContentLoaded
		}
		return Goto{URL: firstNonEmpty(input, "about:blank"), WaitUntil: wu}, nil
	case KindClick:
		return Click{Selector: target}, nil
	case KindFill:
		return Fill{Selector: r.Selector, Value: value}, nil
	case KindCheck:
		return Check{Selector: target}, nil
	case KindSwitchFrame:
		return SwitchFrame{Target: target, StrictLifecycle: o.StrictLifecycle || p.StrictLifecycle}, nil
	case KindExpectVisible:
		return ExpectVisible{Selector: target}, nil
	case KindExpectHidden:
		return ExpectHidden{Selector: target}, nil
	case KindWaitForSelector:
		return WaitForSelector{Selector: target}, nil
	case KindExpectText:
		return ExpectText{Selector: r.Selector, Expected: value}, nil
	case KindExpectURL:
		return ExpectURL{Pattern: input}, nil
	case KindHover:
		return Hover{Selector: target}, nil
	case KindSelectOption:
		return SelectOption{Selector: r.Selector, Value: value}, nil
	case KindPressKey:
		return PressKey{Key: input}, nil
	case KindScreenshot:
		return Screenshot{Name: value}, nil
	case KindScrollTo:
		return ScrollTo{Selector: target}, nil
	case KindWaitTimeout:
		ms, err := atoiDefault(input, 1000)
		if err != nil {
			return nil, fmt.Errorf("step %s: invalid timeout %q: %w", r.Type, input, err)
		}
		return WaitTimeout{Duration: time.Duration(ms) * time.Millisecond}, nil
	case KindHTTPRequest:
		method := strings.ToUpper(firstNonEmpty(p.Method, "GET"))
		body, isJSON := decodeBody(p.Body)
		return HTTPRequest{
			Method:     method,
			URL:        input,
			Headers:    textMap(p.Headers),
			Params:     textMap(p.Params),
			Body:       body,
			JSONBody:   isJSON,
			Assertions: p.Assertions,
		}, nil
	case KindFeedCheck:
		return FeedCheck{URL: input, Assertions: p.Assertions}, nil
	case KindCarouselFind:
		swipes := p.MaxSwipes
		if swipes <= 0 {
			swipes = 10
		}
		return CarouselFind{Target: r.Selector, Next: value, MaxSwipes: swipes}, nil
	case KindVerifyNthChild:
		idx, err := atoiDefault(value, 0)
		if err != nil {
			return nil, fmt.Errorf("step %s: invalid index %q: %w", r.Type, value, err)
		}
		return VerifyNthChild{Selector: r.Selector, Index: idx, Text: p.Text.String()}, nil
	case KindCountChildren:
		n, err := atoiDefault(value, 0)
		if err != nil {
			return nil, fmt.Errorf("step %s: invalid count %q: %w", r.Type, value, err)
		}
		return CountChildren{Selector: r.Selector, Expected: n, Operator: firstNonEmpty(p.Operator, "equals")}, nil
	default:
		return Unknown{Type: r.Type}, nil
	}
}

// List 步骤列表，反序列化时逐个 Parse
//
// 单个步骤解析失败时记为 Invalid，由执行阶段让该用例失败。
type List []Step

// UnmarshalJSON 实现 json.Unmarshaler
func (l *List) UnmarshalJSON(b []byte) error {
	var raws []Raw
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}
	out := make(List, 0, len(raws))
	for i, r := range raws {
		s, err := Parse(r)
		if err != nil {
			s = Invalid{Type: r.Type, Err: fmt.Errorf("steps[%d]: %w", i, err)}
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

func decodeBody(raw json.RawMessage) ([]byte, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s), false
		}
	}
	return []byte(raw), true
}

func textMap(m map[string]Text) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func atoiDefault(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
