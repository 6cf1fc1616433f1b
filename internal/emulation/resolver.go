package emulation

import (
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// GenericMobile 通用移动设备，不依赖设备表
const GenericMobile = "Mobile (Generic)"

const (
	uaIOSChromium    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0.6099.119 Mobile/15E148 Safari/604.1"
	uaIOSFirefox     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) FxiOS/120.0 Mobile/15E148 Safari/605.1.15"
	uaAndroidFirefox = "Mozilla/5.0 (Android 14; Mobile; rv:120.0) Gecko/120.0 Firefox/120.0"
)

type uaKey struct {
	platform Platform
	engine   domain.BrowserKind
}

// 设备原生引擎与实际引擎不一致时使用的 UA 模板
var uaTemplates = map[uaKey]string{
	{PlatformIOS, domain.BrowserChromium}:    uaIOSChromium,
	{PlatformIOS, domain.BrowserFirefox}:     uaIOSFirefox,
	{PlatformAndroid, domain.BrowserFirefox}: uaAndroidFirefox,
}

// Descriptor 浏览上下文的模拟参数
//
// IsMobile 为 nil 表示不设置该选项（firefox 不支持）。
// UserAgent 为空表示使用引擎默认 UA。
type Descriptor struct {
	Viewport          Viewport           `json:"viewport"`
	DeviceScaleFactor float64            `json:"deviceScaleFactor"`
	IsMobile          *bool              `json:"isMobile,omitempty"`
	HasTouch          bool               `json:"hasTouch"`
	UserAgent         string             `json:"userAgent,omitempty"`
	EmulatedAs        domain.BrowserKind `json:"emulatedAs,omitempty"`
}

// Resolve 使用内置设备表计算模拟参数
func Resolve(device string, kind domain.BrowserKind) *Descriptor {
	return Default().Resolve(device, kind)
}

// Resolve 计算模拟参数，device 为空或无法识别时返回 nil
func (r *Registry) Resolve(device string, kind domain.BrowserKind) *Descriptor {
	if device == "" {
		return nil
	}
	if device == GenericMobile {
		return &Descriptor{
			Viewport:          Viewport{Width: 375, Height: 667},
			DeviceScaleFactor: 2,
			IsMobile:          mobileFlag(kind, true),
			HasTouch:          true,
		}
	}

	p, ok := r.Lookup(device)
	if !ok {
		return nil
	}

	if p.Engine != "" && p.Engine != kind {
		// 原生 UA 会暴露与实际引擎不符的身份，只保留尺寸和触控，isMobile 只由引擎决定
		return &Descriptor{
			Viewport:          p.Viewport,
			DeviceScaleFactor: p.DeviceScaleFactor,
			IsMobile:          mobileFlag(kind, true),
			HasTouch:          p.HasTouch,
			UserAgent:         uaTemplates[uaKey{p.Platform, kind}],
		}
	}

	return &Descriptor{
		Viewport:          p.Viewport,
		DeviceScaleFactor: p.DeviceScaleFactor,
		IsMobile:          mobileFlag(kind, p.IsMobile),
		HasTouch:          p.HasTouch,
		UserAgent:         p.UserAgent,
		EmulatedAs:        kind,
	}
}

func mobileFlag(kind domain.BrowserKind, v bool) *bool {
	if !kind.SupportsMobileFlag() {
		return nil
	}
	return &v
}
