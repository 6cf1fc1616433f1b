package cdp

import (
	"encoding/json"
	"fmt"
)

// queryAllJS 选择器解析：xpath=、// 开头为 XPath，text= 为文本匹配，其余按 CSS
const queryAllJS = `(sel) => {
  if (sel.startsWith('xpath=') || sel.startsWith('//') || sel.startsWith('(//')) {
    const x = sel.startsWith('xpath=') ? sel.slice(6) : sel;
    const r = document.evaluate(x, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    const out = [];
    for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
    return out;
  }
  if (sel.startsWith('text=')) {
    const t = sel.slice(5).replace(/^"(.*)"$/, '$1');
    const root = document.body || document.documentElement;
    const out = [];
    const w = document.createTreeWalker(root, NodeFilter.SHOW_ELEMENT);
    while (w.nextNode()) {
      const el = w.currentNode;
      const has = (n) => (n.textContent || '').includes(t);
      if (has(el) && !Array.from(el.children).some(has)) out.push(el);
    }
    return out;
  }
  return Array.from(document.querySelectorAll(sel.startsWith('css=') ? sel.slice(4) : sel));
}`

const (
	stateJS = `(el) => {
  if (!el) return {attached: false, visible: false};
  const r = el.getBoundingClientRect();
  const s = getComputedStyle(el);
  return {attached: true, visible: r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none'};
}`
	pointJS = `(el) => {
  if (!el) return null;
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2};
}`
	frameOffsetJS = `(el) => {
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return {x: r.left + el.clientLeft, y: r.top + el.clientTop};
}`
	scrollJS  = `(el) => { if (!el) return false; el.scrollIntoView({block: 'center', inline: 'center'}); return true; }`
	textJS    = `(el) => el ? (el.textContent || '') : null`
	checkedJS = `(el) => el ? !!el.checked : null`
	countJS   = `(el, els) => els.length`
	elementJS = `(el) => el`

	readyStateJS   = `document.readyState`
	documentSizeJS = `({W: document.documentElement.scrollWidth, H: document.documentElement.scrollHeight})`
)

// fillJS 通过原生 setter 赋值，保证框架能收到 input 事件
func fillJS(value string) string {
	return fmt.Sprintf(`(el) => {
  if (!el) return false;
  const v = %s;
  el.focus();
  if (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement) {
    const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, v);
  } else if (el.isContentEditable) {
    el.textContent = v;
  } else {
    el.value = v;
  }
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
}`, jsString(value))
}

// selectJS 先按 value 再按 label 匹配选项
func selectJS(value string) string {
	return fmt.Sprintf(`(el) => {
  if (!el) return 'missing';
  const v = %s;
  const opts = Array.from(el.options || []);
  const o = opts.find((o) => o.value === v) || opts.find((o) => o.label === v || o.text === v);
  if (!o) return 'no-option';
  el.value = o.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return 'ok';
}`, jsString(value))
}

// locatorExpr 组合选择器解析与元素操作，body 接收 (el, els)
func locatorExpr(selector string, nth int, body string) string {
	return fmt.Sprintf("(() => { const els = (%s)(%s); const el = els[%d] || null; return (%s)(el, els); })()",
		queryAllJS, jsString(selector), nth, body)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
