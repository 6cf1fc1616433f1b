package traffic

import (
	"net/url"
	"strings"
)

// Header 封装通用的头部操作，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Merge 浅覆盖合并，新值优先
func (h Header) Merge(src map[string]string) {
	for k, v := range src {
		h.Set(k, v)
	}
}

// Clone 复制 Header
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// HeaderFrom 从任意大小写的 map 构建 Header
func HeaderFrom(m map[string]string) Header {
	h := make(Header, len(m))
	h.Merge(m)
	return h
}

// Request 中立的请求模型
type Request struct {
	ID           string // 事务唯一ID
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	ResourceType string // 资源类型 (如 Document, XHR)
	IsNavigation bool   // 是否为页面导航请求
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{Headers: make(Header)}
}

// Hostname 返回请求主机名，URL 非法时为空
func (r *Request) Hostname() string {
	return Hostname(r.URL)
}

// Hostname 解析 URL 的主机名（小写）
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Response 中立的响应模型
type Response struct {
	RequestID    string
	URL          string
	Method       string
	StatusCode   int
	Headers      Header
	ResourceType string
	// IsMainDocument 顶层文档的响应
	IsMainDocument bool
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{Headers: make(Header)}
}
