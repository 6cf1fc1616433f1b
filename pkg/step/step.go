// Package step 定义测试步骤的封闭联合类型。
//
// JSON 中的步骤以 {type, selector, value, params, options} 形式出现，
// 在边界处经 Parse 转换为具体类型，执行器按类型分派。
package step

import "time"

// Kind 步骤类型标签
type Kind string

const (
	KindGoto            Kind = "goto"
	KindClick           Kind = "click"
	KindFill            Kind = "fill"
	KindCheck           Kind = "check"
	KindSwitchFrame     Kind = "switch-frame"
	KindExpectVisible   Kind = "expect-visible"
	KindExpectHidden    Kind = "expect-hidden"
	KindWaitForSelector Kind = "wait-for-selector"
	KindExpectText      Kind = "expect-text"
	KindExpectURL       Kind = "expect-url"
	KindHover           Kind = "hover"
	KindSelectOption    Kind = "select-option"
	KindPressKey        Kind = "press-key"
	KindScreenshot      Kind = "screenshot"
	KindScrollTo        Kind = "scroll-to"
	KindWaitTimeout     Kind = "wait-timeout"
	KindHTTPRequest     Kind = "http-request"
	KindFeedCheck       Kind = "feed-check"
	KindCarouselFind    Kind = "carousel-find"
	KindVerifyNthChild  Kind = "verify-nth-child"
	KindCountChildren   Kind = "count-children"
)

// Step 所有步骤类型实现该接口
type Step interface {
	Kind() Kind
	sealed()
}

// WaitUntil 导航完成条件
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitCommit           WaitUntil = "commit"
)

// Assertion 接口类步骤的断言
type Assertion struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    Text   `json:"value,omitempty"`
}

type Goto struct {
	URL       string
	WaitUntil WaitUntil
}

type Click struct{ Selector string }

type Fill struct{ Selector, Value string }

type Check struct{ Selector string }

// SwitchFrame Target 为 "main"/"top" 时切回主页面
type SwitchFrame struct {
	Target          string
	StrictLifecycle bool
}

// IsTop 是否切回顶层页面
func (s SwitchFrame) IsTop() bool { return s.Target == "main" || s.Target == "top" }

type ExpectVisible struct{ Selector string }

type ExpectHidden struct{ Selector string }

type WaitForSelector struct{ Selector string }

type ExpectText struct{ Selector, Expected string }

type ExpectURL struct{ Pattern string }

type Hover struct{ Selector string }

type SelectOption struct{ Selector, Value string }

type PressKey struct{ Key string }

// Screenshot Name 不含扩展名
type Screenshot struct{ Name string }

type ScrollTo struct{ Selector string }

type WaitTimeout struct{ Duration time.Duration }

type HTTPRequest struct {
	Method     string
	URL        string
	Headers    map[string]string
	Params     map[string]string
	Body       []byte
	JSONBody   bool
	Assertions []Assertion
}

type FeedCheck struct {
	URL        string
	Assertions []Assertion
}

// CarouselFind 反复点击 Next 直到 Target 可见
type CarouselFind struct {
	Target    string
	Next      string
	MaxSwipes int
}

type VerifyNthChild struct {
	Selector string
	Index    int
	Text     string
}

type CountChildren struct {
	Selector string
	Expected int
	Operator string
}

// Unknown 未识别的步骤，执行时记录并跳过
type Unknown struct{ Type string }

// Invalid 参数无法解析的步骤，执行时以 Err 失败，不影响整个请求的解码
type Invalid struct {
	Type string
	Err  error
}

func (Goto) Kind() Kind            { return KindGoto }
func (Click) Kind() Kind           { return KindClick }
func (Fill) Kind() Kind            { return KindFill }
func (Check) Kind() Kind           { return KindCheck }
func (SwitchFrame) Kind() Kind     { return KindSwitchFrame }
func (ExpectVisible) Kind() Kind   { return KindExpectVisible }
func (ExpectHidden) Kind() Kind    { return KindExpectHidden }
func (WaitForSelector) Kind() Kind { return KindWaitForSelector }
func (ExpectText) Kind() Kind      { return KindExpectText }
func (ExpectURL) Kind() Kind       { return KindExpectURL }
func (Hover) Kind() Kind           { return KindHover }
func (SelectOption) Kind() Kind    { return KindSelectOption }
func (PressKey) Kind() Kind        { return KindPressKey }
func (Screenshot) Kind() Kind      { return KindScreenshot }
func (ScrollTo) Kind() Kind        { return KindScrollTo }
func (WaitTimeout) Kind() Kind     { return KindWaitTimeout }
func (HTTPRequest) Kind() Kind     { return KindHTTPRequest }
func (FeedCheck) Kind() Kind       { return KindFeedCheck }
func (CarouselFind) Kind() Kind    { return KindCarouselFind }
func (VerifyNthChild) Kind() Kind  { return KindVerifyNthChild }
func (CountChildren) Kind() Kind   { return KindCountChildren }
func (u Unknown) Kind() Kind       { return Kind(u.Type) }
func (v Invalid) Kind() Kind       { return Kind(v.Type) }

func (Goto) sealed()            {}
func (Click) sealed()           {}
func (Fill) sealed()            {}
func (Check) sealed()           {}
func (SwitchFrame) sealed()     {}
func (ExpectVisible) sealed()   {}
func (ExpectHidden) sealed()    {}
func (WaitForSelector) sealed() {}
func (ExpectText) sealed()      {}
func (ExpectURL) sealed()       {}
func (Hover) sealed()           {}
func (SelectOption) sealed()    {}
func (PressKey) sealed()        {}
func (Screenshot) sealed()      {}
func (ScrollTo) sealed()        {}
func (WaitTimeout) sealed()     {}
func (HTTPRequest) sealed()     {}
func (FeedCheck) sealed()       {}
func (CarouselFind) sealed()    {}
func (VerifyNthChild) sealed()  {}
func (CountChildren) sealed()   {}
func (Unknown) sealed()         {}
func (Invalid) sealed()         {}
