// Package enginetest 提供内存实现的浏览器引擎，供执行器与编排测试使用。
package enginetest

import (
	"sync"
)

// Element 假元素，字段受所属 DOM 的锁保护
type Element struct {
	Visible bool
	Text    string
	Value   string
	Checked bool

	Clicks   int
	Hovers   int
	Scrolled int

	// HoverErr 非空时悬停失败
	HoverErr error
	// OnClick 点击后在锁外调用
	OnClick func()
}

// FrameDoc iframe 内的文档
type FrameDoc struct {
	*DOM
	LoadErr error
}

// DOM 以选择器为键的假文档
type DOM struct {
	mu       sync.Mutex
	elements map[string][]*Element
	frames   map[string]*FrameDoc
}

// NewDOM 创建空文档
func NewDOM() *DOM {
	return &DOM{elements: make(map[string][]*Element), frames: make(map[string]*FrameDoc)}
}

// Add 在选择器下追加元素
func (d *DOM) Add(selector string, els ...*Element) *DOM {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[selector] = append(d.elements[selector], els...)
	return d
}

// Visible 追加一个带文本的可见元素
func (d *DOM) Visible(selector, text string) *Element {
	el := &Element{Visible: true, Text: text}
	d.Add(selector, el)
	return el
}

// Remove 删除选择器下的全部元素
func (d *DOM) Remove(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, selector)
}

// AddFrame 挂载 iframe，同时注册可见的 frame 元素
func (d *DOM) AddFrame(selector string) *FrameDoc {
	f := &FrameDoc{DOM: NewDOM()}
	d.mu.Lock()
	d.frames[selector] = f
	d.elements[selector] = append(d.elements[selector], &Element{Visible: true})
	d.mu.Unlock()
	return f
}

// Update 在锁内修改元素
func (d *DOM) Update(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

func (d *DOM) lookup(selector string) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Element(nil), d.elements[selector]...)
}

func (d *DOM) frame(selector string) *FrameDoc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames[selector]
}
