// Package emulation 根据设备名和实际引擎计算浏览上下文的模拟参数。
package emulation

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

//go:embed devices.yaml
var builtinDevices []byte

// Platform 设备所属平台，决定 UA 合成模板
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
)

// Viewport 视口尺寸
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Profile 设备描述
type Profile struct {
	Name              string             `yaml:"name"`
	Platform          Platform           `yaml:"platform"`
	Engine            domain.BrowserKind `yaml:"engine"`
	Viewport          Viewport           `yaml:"viewport"`
	DeviceScaleFactor float64            `yaml:"device_scale_factor"`
	IsMobile          bool               `yaml:"is_mobile"`
	HasTouch          bool               `yaml:"has_touch"`
	UserAgent         string             `yaml:"user_agent"`
}

// Registry 设备表
type Registry struct {
	profiles map[string]Profile
}

// ParseProfiles 解析 YAML 设备列表
func ParseProfiles(b []byte) ([]Profile, error) {
	var list []Profile
	if err := yaml.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse devices: %w", err)
	}
	for i, p := range list {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("devices[%d]: missing name", i)
		}
		if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
			return nil, fmt.Errorf("device %q: invalid viewport", p.Name)
		}
		switch p.Platform {
		case PlatformIOS, PlatformAndroid, PlatformDesktop:
		default:
			return nil, fmt.Errorf("device %q: unknown platform %q", p.Name, p.Platform)
		}
	}
	return list, nil
}

// NewRegistry 创建设备表，同名设备后者覆盖前者
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name] = p
	}
	return r
}

// Lookup 按名称查找设备
func (r *Registry) Lookup(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Names 返回所有设备名
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default 内置设备表
func Default() *Registry {
	defaultOnce.Do(func() {
		profiles, err := ParseProfiles(builtinDevices)
		if err != nil {
			panic(err)
		}
		defaultRegistry = NewRegistry(profiles...)
	})
	return defaultRegistry
}
