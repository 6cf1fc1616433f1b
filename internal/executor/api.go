package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/policy"
	"github.com/raja-9679/TraceIQ-sub000/internal/rules"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/step"
)

// MaxResponseSize 接口类步骤读取响应体的上限
const MaxResponseSize = 10 * 1024 * 1024

type call struct {
	method  string
	url     string
	headers map[string]string
	params  map[string]string
	body    []byte
	json    bool
	kind    step.Kind
}

func (e *Executor) httpRequest(ctx context.Context, env Env, s step.HTTPRequest) (*domain.StepResult, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("http-request requires url")
	}
	res, err := e.do(ctx, env, call{
		method:  s.Method,
		url:     s.URL,
		headers: mergeMaps(env.Settings.Headers, s.Headers),
		params:  mergeMaps(env.Settings.Params, s.Params),
		body:    s.Body,
		json:    s.JSONBody,
		kind:    step.KindHTTPRequest,
	})
	if err != nil {
		return nil, err
	}
	if err := rules.CheckHTTP(s.Assertions, rules.Response{Status: res.Status, Body: res.Body}); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Executor) feedCheck(ctx context.Context, env Env, s step.FeedCheck) (*domain.StepResult, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("feed-check requires url")
	}
	res, err := e.do(ctx, env, call{
		method:  http.MethodGet,
		url:     s.URL,
		headers: mergeMaps(env.Settings.Headers, nil),
		params:  mergeMaps(env.Settings.Params, nil),
		kind:    step.KindFeedCheck,
	})
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status >= 300 {
		return res, fmt.Errorf("Failed to fetch feed: %d", res.Status)
	}
	if err := rules.CheckFeed(s.Assertions, res.Body); err != nil {
		return res, err
	}
	return res, nil
}

// do 发出请求并记录网络事件
func (e *Executor) do(ctx context.Context, env Env, c call) (*domain.StepResult, error) {
	method := strings.ToUpper(c.method)
	if method == "" {
		method = http.MethodGet
	}
	target := policy.AppendParams(c.url, c.params)

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if len(c.body) > 0 {
			body = bytes.NewReader(c.body)
		}
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.HTTP)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil && c.json && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	l := logger.OrNop(env.Log).With("method", method, "url", target)
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	end := time.Now()
	l.Debug("接口请求完成", "status", resp.StatusCode, "duration", end.Sub(start))

	reqHeaders := flatten(req.Header)
	respHeaders := flatten(resp.Header)
	if env.Network != nil {
		env.Network.Append(domain.NetworkEvent{
			URL:             target,
			Method:          method,
			ResourceType:    "fetch",
			Status:          resp.StatusCode,
			StartTime:       start.UnixMilli(),
			EndTime:         end.UnixMilli(),
			Duration:        end.Sub(start).Milliseconds(),
			RequestHeaders:  reqHeaders,
			ResponseHeaders: respHeaders,
		})
	}

	res := &domain.StepResult{
		Type:    string(c.kind),
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    string(raw),
		Request: domain.RequestSnapshot{
			URL:     target,
			Method:  method,
			Headers: reqHeaders,
			Params:  c.params,
		},
	}
	if body != nil {
		res.Request.Body = string(c.body)
	}
	return res, nil
}

// mergeMaps 后者覆盖前者
func mergeMaps(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}
