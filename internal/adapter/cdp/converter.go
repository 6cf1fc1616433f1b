package cdp

import (
	"sort"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/tidwall/gjson"

	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

// ToNeutralRequest 将拦截事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	if ev.NetworkID != nil {
		req.ID = string(*ev.NetworkID)
	}
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)
	req.IsNavigation = ev.ResourceType == network.ResourceTypeDocument
	req.Headers = HeadersFrom(ev.Request.Headers)
	return req
}

// FromRequestWillBeSent 将网络事件转换为中立 Request 模型
func FromRequestWillBeSent(ev *network.RequestWillBeSentReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.Type)
	req.IsNavigation = ev.Type == network.ResourceTypeDocument
	req.Headers = HeadersFrom(ev.Request.Headers)
	return req
}

// FromResponseReceived 将响应事件转换为中立 Response 模型，mainFrame 为顶层 frame
func FromResponseReceived(ev *network.ResponseReceivedReply, method string, mainFrame page.FrameID) *traffic.Response {
	res := traffic.NewResponse()
	res.RequestID = string(ev.RequestID)
	res.URL = ev.Response.URL
	res.Method = method
	res.StatusCode = ev.Response.Status
	res.ResourceType = string(ev.Type)
	res.Headers = HeadersFrom(ev.Response.Headers)
	res.IsMainDocument = ev.Type == network.ResourceTypeDocument &&
		ev.FrameID != nil && *ev.FrameID == mainFrame
	return res
}

// HeadersFrom 解析 CDP 的 headers 对象，非字符串值取其原文
func HeadersFrom(raw network.Headers) traffic.Header {
	h := make(traffic.Header)
	if len(raw) == 0 {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
	return h
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，按名称排序
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range keys {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}
