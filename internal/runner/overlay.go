package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// testNameVar 覆盖层读取的当前用例名
const testNameVar = "__TRACEIQ_TEST_NAME__"

var badgeColors = map[domain.BrowserKind]string{
	domain.BrowserChromium: "#4285f4",
	domain.BrowserFirefox:  "#ff7139",
	domain.BrowserWebKit:   "#00d4ff",
}

// overlayScript 调试覆盖层：鼠标位置指示与引擎/设备/用例名标记
func overlayScript(kind domain.BrowserKind, device string, emulatedAs domain.BrowserKind) string {
	color := badgeColors[kind]
	if color == "" {
		color = badgeColors[domain.BrowserWebKit]
	}
	label := strings.ToUpper(string(kind))
	note := ""
	if emulatedAs != "" && emulatedAs != kind {
		note = "as " + string(emulatedAs)
	}
	return fmt.Sprintf(overlayTemplate, jsValue(label), jsValue(note), jsValue(device), jsValue(color), testNameVar)
}

// setTestNameScript 发布当前用例名
func setTestNameScript(name string) string {
	return fmt.Sprintf("window.%s = %s", testNameVar, jsValue(name))
}

func jsValue(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const overlayTemplate = `(() => {
  if (window.self !== window.top) return;
  const label = %s, note = %s, device = %s, color = %s, nameVar = %q;
  const init = () => {
    if (document.getElementById('traceiq-badge')) return;
    const style = document.createElement('style');
    style.textContent =
      '.traceiq-mouse{pointer-events:none;position:absolute;top:0;left:0;width:20px;height:20px;' +
      'border:1px solid white;border-radius:50%%;background:rgba(255,0,0,.7);margin:-10px 0 0 -10px;' +
      'box-shadow:0 0 4px rgba(0,0,0,.8);z-index:100000;transition:background .2s}' +
      '.traceiq-mouse.pressed{background:rgba(255,0,0,1);transform:scale(.9)}' +
      '#traceiq-badge{pointer-events:none!important;position:fixed!important;top:20px!important;right:20px!important;' +
      'padding:8px 16px!important;background:rgba(0,0,0,.85)!important;color:#fff!important;' +
      'font:bold 12px "Courier New",monospace!important;border-radius:6px!important;z-index:2147483647!important;' +
      'border:2px solid ' + color + '!important;display:flex!important;flex-direction:column!important;gap:4px!important;' +
      'min-width:150px!important;opacity:1!important;transition:opacity .5s ease-out!important}' +
      '#traceiq-badge.hidden{opacity:0!important}' +
      '#traceiq-badge .kind{font-size:14px!important;color:' + color + '!important}' +
      '#traceiq-badge .note{font-size:10px!important;font-style:italic!important;color:rgba(255,255,255,.5)!important}' +
      '#traceiq-badge .device{font-size:10px!important;color:#888!important;font-weight:normal!important}' +
      '#traceiq-badge .test{font-size:11px!important;color:#aaa!important;font-weight:normal!important}';
    document.head.appendChild(style);

    const mouse = document.createElement('div');
    mouse.className = 'traceiq-mouse';
    document.body.appendChild(mouse);

    const badge = document.createElement('div');
    badge.id = 'traceiq-badge';
    const kind = document.createElement('div');
    kind.className = 'kind';
    kind.textContent = label;
    if (note) {
      const n = document.createElement('span');
      n.className = 'note';
      n.textContent = ' (' + note + ')';
      kind.appendChild(n);
    }
    badge.appendChild(kind);
    if (device) {
      const d = document.createElement('div');
      d.className = 'device';
      d.textContent = device;
      badge.appendChild(d);
    }
    const test = document.createElement('div');
    test.className = 'test';
    badge.appendChild(test);
    document.body.appendChild(badge);

    let last = null, hide = null;
    setInterval(() => {
      const name = window[nameVar] || 'Loading...';
      if (name === last) return;
      last = name;
      test.textContent = name;
      badge.classList.remove('hidden');
      if (hide) clearTimeout(hide);
      if (name !== 'Loading...') hide = setTimeout(() => badge.classList.add('hidden'), 3000);
    }, 100);

    document.addEventListener('mousemove', (e) => { mouse.style.left = e.pageX + 'px'; mouse.style.top = e.pageY + 'px'; }, true);
    document.addEventListener('mousedown', () => mouse.classList.add('pressed'), true);
    document.addEventListener('mouseup', () => mouse.classList.remove('pressed'), true);
  };
  if (document.body) {
    init();
  } else {
    const obs = new MutationObserver(() => { if (document.body) { obs.disconnect(); init(); } });
    obs.observe(document.documentElement, {childList: true});
  }
})()`
