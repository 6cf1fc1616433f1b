package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/input"
)

// key 一个按键的 DevTools 描述
type key struct {
	Key  string
	Code string
	VK   int
	Text string
}

var namedKeys = map[string]key{
	"Enter":      {Key: "Enter", Code: "Enter", VK: 13, Text: "\r"},
	"Tab":        {Key: "Tab", Code: "Tab", VK: 9},
	"Escape":     {Key: "Escape", Code: "Escape", VK: 27},
	"Backspace":  {Key: "Backspace", Code: "Backspace", VK: 8},
	"Delete":     {Key: "Delete", Code: "Delete", VK: 46},
	"Space":      {Key: " ", Code: "Space", VK: 32, Text: " "},
	"ArrowUp":    {Key: "ArrowUp", Code: "ArrowUp", VK: 38},
	"ArrowDown":  {Key: "ArrowDown", Code: "ArrowDown", VK: 40},
	"ArrowLeft":  {Key: "ArrowLeft", Code: "ArrowLeft", VK: 37},
	"ArrowRight": {Key: "ArrowRight", Code: "ArrowRight", VK: 39},
	"Home":       {Key: "Home", Code: "Home", VK: 36},
	"End":        {Key: "End", Code: "End", VK: 35},
	"PageUp":     {Key: "PageUp", Code: "PageUp", VK: 33},
	"PageDown":   {Key: "PageDown", Code: "PageDown", VK: 34},
}

// 修饰键位掩码，与 DevTools 的 modifiers 字段一致
const (
	modAlt   = 1
	modCtrl  = 2
	modMeta  = 4
	modShift = 8
)

var modifierKeys = map[string]struct {
	bit int
	key key
}{
	"Alt":     {modAlt, key{Key: "Alt", Code: "AltLeft", VK: 18}},
	"Control": {modCtrl, key{Key: "Control", Code: "ControlLeft", VK: 17}},
	"Meta":    {modMeta, key{Key: "Meta", Code: "MetaLeft", VK: 91}},
	"Shift":   {modShift, key{Key: "Shift", Code: "ShiftLeft", VK: 16}},
}

// parseKey 解析 "Control+A" 形式的组合键
func parseKey(combo string) ([]key, key, int, error) {
	if combo == "" {
		return nil, key{}, 0, fmt.Errorf("empty key")
	}
	parts := strings.Split(combo, "+")
	name, prefix := parts[len(parts)-1], parts[:len(parts)-1]
	if name == "" {
		// "+" 本身作为按键，如 "Shift++"
		if len(parts) < 2 || parts[len(parts)-2] != "" {
			return nil, key{}, 0, fmt.Errorf("invalid key %q", combo)
		}
		name, prefix = "+", parts[:len(parts)-2]
	}

	var (
		mods []key
		mask int
	)
	for _, m := range prefix {
		mk, ok := modifierKeys[m]
		if !ok {
			return nil, key{}, 0, fmt.Errorf("unknown modifier %q in %q", m, combo)
		}
		mods = append(mods, mk.key)
		mask |= mk.bit
	}

	if k, ok := namedKeys[name]; ok {
		return mods, k, mask, nil
	}
	if mk, ok := modifierKeys[name]; ok {
		return mods, mk.key, mask, nil
	}
	r := []rune(name)
	if len(r) != 1 {
		return nil, key{}, 0, fmt.Errorf("unknown key %q", name)
	}
	return mods, charKey(r[0], mask&modShift != 0), mask, nil
}

func charKey(r rune, shift bool) key {
	s := string(r)
	k := key{Key: s, Text: s}
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		up := strings.ToUpper(s)
		k.Code = "Key" + up
		k.VK = int(up[0])
		if shift {
			k.Key, k.Text = up, up
		}
	case r >= '0' && r <= '9':
		k.Code = "Digit" + s
		k.VK = int(r)
	}
	return k
}

// pressKey 依次按下修饰键和主键，再逆序抬起
func pressKey(ctx context.Context, c *cdp.Client, combo string) error {
	mods, k, mask, err := parseKey(combo)
	if err != nil {
		return err
	}
	// 带 Control/Meta/Alt 时不产生文本输入
	if mask&(modCtrl|modMeta|modAlt) != 0 {
		k.Text = ""
	}

	down := func(k key, mask int) error {
		typ := "rawKeyDown"
		if k.Text != "" {
			typ = "keyDown"
		}
		args := keyArgs(typ, k, mask)
		if k.Text != "" {
			args.SetText(k.Text)
		}
		return c.Input.DispatchKeyEvent(ctx, args)
	}
	up := func(k key, mask int) error {
		return c.Input.DispatchKeyEvent(ctx, keyArgs("keyUp", k, mask))
	}

	for _, m := range mods {
		if err := down(m, mask); err != nil {
			return fmt.Errorf("press %s: %w", combo, err)
		}
	}
	if err := down(k, mask); err != nil {
		return fmt.Errorf("press %s: %w", combo, err)
	}
	if err := up(k, mask); err != nil {
		return fmt.Errorf("press %s: %w", combo, err)
	}
	for i := len(mods) - 1; i >= 0; i-- {
		if err := up(mods[i], mask); err != nil {
			return fmt.Errorf("press %s: %w", combo, err)
		}
	}
	return nil
}

func keyArgs(typ string, k key, mask int) *input.DispatchKeyEventArgs {
	args := input.NewDispatchKeyEventArgs(typ).SetKey(k.Key).SetModifiers(mask)
	if k.Code != "" {
		args.SetCode(k.Code)
	}
	if k.VK != 0 {
		args.SetWindowsVirtualKeyCode(k.VK).SetNativeVirtualKeyCode(k.VK)
	}
	return args
}
