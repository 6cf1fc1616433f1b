package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

type RunID int64
type TestCaseID int64

// BrowserKind 浏览器引擎类型
type BrowserKind string

const (
	BrowserChromium BrowserKind = "chromium"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebKit   BrowserKind = "webkit"
)

// ParseBrowserKind 解析引擎类型，空字符串回落为 chromium
func ParseBrowserKind(s string) (BrowserKind, error) {
	switch k := BrowserKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return BrowserChromium, nil
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
		return k, nil
	default:
		return "", fmt.Errorf("unknown browser kind %q", s)
	}
}

// SupportsMobileFlag 引擎是否支持 isMobile 选项
func (k BrowserKind) SupportsMobileFlag() bool { return k != BrowserFirefox }

type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// FailurePolicy 单个用例失败后的处理策略
type FailurePolicy string

const (
	FailureAbort    FailurePolicy = "abort"
	FailureContinue FailurePolicy = "continue"
)

// ExecutionMode 用例的浏览上下文模式
type ExecutionMode string

const (
	ModeContinuous ExecutionMode = "continuous"
	ModeSeparate   ExecutionMode = "separate"
)

// RunRequest 一次执行请求，执行期间只读
type RunRequest struct {
	RunID         RunID         `json:"runId"`
	TestCases     []TestCase    `json:"testCases"`
	Browser       BrowserKind   `json:"browser,omitempty"`
	Device        string        `json:"device,omitempty"`
	Settings      Settings      `json:"settings"`
	FailurePolicy FailurePolicy `json:"failurePolicy,omitempty"`
}

// TestCase 测试用例，Settings 非空时在本用例期间整体替换全局设置
type TestCase struct {
	ID            TestCaseID    `json:"id"`
	Name          string        `json:"name"`
	Steps         step.List     `json:"steps"`
	Settings      *Settings     `json:"settings,omitempty"`
	ExecutionMode ExecutionMode `json:"executionMode,omitempty"`
}

// Mode 返回用例执行模式，默认 continuous
func (tc TestCase) Mode() ExecutionMode {
	if tc.ExecutionMode == ModeSeparate {
		return ModeSeparate
	}
	return ModeContinuous
}

// StepResult http-request / feed-check 步骤的响应快照
type StepResult struct {
	Type    string            `json:"type"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Request RequestSnapshot   `json:"request"`
}

// RequestSnapshot 实际发出的请求
type RequestSnapshot struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Params  map[string]string `json:"params,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// NetworkEvent 一次已完成响应的网络记录，创建后不再修改
type NetworkEvent struct {
	TestCaseID      TestCaseID        `json:"testCaseId"`
	TestCaseName    string            `json:"testCaseName"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	ResourceType    string            `json:"resourceType,omitempty"`
	Status          int               `json:"status"`
	StartTime       int64             `json:"startTime"`
	EndTime         int64             `json:"endTime"`
	Duration        int64             `json:"duration"`
	RequestHeaders  map[string]string `json:"requestHeaders"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
}

// ExecutionLogEntry 每个用例一条执行日志
type ExecutionLogEntry struct {
	TestCaseID   TestCaseID `json:"testCaseId"`
	TestCaseName string     `json:"testCaseName"`
	StartTime    int64      `json:"startTime"`
	EndTime      int64      `json:"endTime"`
	Status       Status     `json:"status"`
	Error        *string    `json:"error"`
}

// CaseResult 用例结果，附带最后一个接口类步骤的请求/响应
type CaseResult struct {
	TestCaseID      TestCaseID        `json:"test_case_id"`
	TestName        string            `json:"test_name"`
	Status          Status            `json:"status"`
	DurationMS      int64             `json:"duration_ms"`
	Error           *string           `json:"error"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    *string           `json:"response_body,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     *string           `json:"request_body,omitempty"`
	RequestURL      *string           `json:"request_url,omitempty"`
	RequestMethod   *string           `json:"request_method,omitempty"`
	RequestParams   map[string]string `json:"request_params,omitempty"`
}

// ApplyStepResult 将步骤响应快照写入用例结果
func (c *CaseResult) ApplyStepResult(r *StepResult) {
	if r == nil {
		return
	}
	status := r.Status
	body := r.Body
	reqURL := r.Request.URL
	method := r.Request.Method
	c.ResponseStatus = &status
	c.ResponseHeaders = r.Headers
	c.ResponseBody = &body
	c.RequestHeaders = r.Request.Headers
	c.RequestURL = &reqURL
	c.RequestMethod = &method
	c.RequestParams = r.Request.Params
	if r.Request.Body != "" {
		reqBody := r.Request.Body
		c.RequestBody = &reqBody
	}
}

// RunResult 执行结果，在收尾阶段一次性汇总
type RunResult struct {
	RunID           RunID               `json:"run_id"`
	Status          Status              `json:"status"`
	DurationMS      int64               `json:"duration_ms"`
	Error           *string             `json:"error"`
	Trace           *string             `json:"trace"`
	Video           *string             `json:"video"`
	Screenshots     []string            `json:"screenshots"`
	ResponseStatus  *int                `json:"response_status,omitempty"`
	RequestHeaders  map[string]string   `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string   `json:"response_headers,omitempty"`
	NetworkEvents   []NetworkEvent      `json:"network_events"`
	ExecutionLog    []ExecutionLogEntry `json:"execution_log"`
	Results         []CaseResult        `json:"results"`
	ArtifactErrors  []string            `json:"artifact_errors,omitempty"`
}

// Failed 结果是否为失败
func (r *RunResult) Failed() bool { return r != nil && r.Status == StatusFailed }

// StrPtr 返回字符串指针
func StrPtr(s string) *string { return &s }

// RunSummary 执行历史列表项
type RunSummary struct {
	RunID      RunID     `json:"runId"`
	Status     Status    `json:"status"`
	DurationMS int64     `json:"durationMs"`
	Error      *string   `json:"error"`
	Cases      int       `json:"cases"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ActiveRun 正在执行的 run 的只读视图
type ActiveRun struct {
	RunID       RunID       `json:"runId"`
	Browser     BrowserKind `json:"browser"`
	Device      string      `json:"device,omitempty"`
	Phase       string      `json:"phase"`
	CurrentCase string      `json:"currentCase,omitempty"`
	Completed   int         `json:"completed"`
	Total       int         `json:"total"`
	StartedAt   time.Time   `json:"startedAt"`
}
