// Package cdp 基于 DevTools 协议驱动 Chromium 内核浏览器，实现 engine 包的接口。
package cdp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/browser"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// 常见的 Chromium 安装路径，未配置 path 时依次查找
var chromiumCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"/usr/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

var devtoolsLine = regexp.MustCompile(`DevTools listening on (ws://\S+)`)

// Launcher 启动本地浏览器进程并通过 DevTools 连接
type Launcher struct {
	cfg   config.Browser
	video config.Video
	log   logger.Logger
}

// NewLauncher 创建启动器
func NewLauncher(cfg config.Browser, video config.Video, l logger.Logger) *Launcher {
	return &Launcher{cfg: cfg, video: video, log: logger.OrNop(l)}
}

// Launch 实现 engine.Launcher
//
// firefox/webkit 只有在配置了支持 DevTools 协议的可执行文件时才能启动。
func (l *Launcher) Launch(ctx context.Context, kind domain.BrowserKind) (engine.Browser, error) {
	exe := l.cfg.For(kind)
	path := exe.Path
	if path == "" {
		if kind != domain.BrowserChromium {
			return nil, fmt.Errorf("%s: %w", kind, engine.ErrUnsupportedKind)
		}
		found, err := lookChromium()
		if err != nil {
			return nil, err
		}
		path = found
	}

	dataDir, err := os.MkdirTemp("", "traceiq-profile-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--password-store=basic",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new", "--hide-scrollbars", "--mute-audio")
	}
	args = append(args, exe.Args...)
	args = append(args, "about:blank")

	cmd := exec.Command(path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	timeout := l.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wsURL, err := waitDevtoolsURL(lctx, stderr)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.RemoveAll(dataDir)
		return nil, err
	}

	conn, err := rpcc.DialContext(lctx, wsURL)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("dial devtools: %w", err)
	}

	u, _ := url.Parse(wsURL)
	b := &Browser{
		kind:     kind,
		cmd:      cmd,
		conn:     conn,
		client:   cdp.NewClient(conn),
		host:     u.Host,
		dataDir:  dataDir,
		video:    l.video,
		log:      l.log.With("browser", string(kind), "pid", cmd.Process.Pid),
		contexts: make(map[browser.ContextID]*Context),
	}
	b.log.Info("浏览器已启动", "path", path, "devtools", wsURL)
	return b, nil
}

func lookChromium() (string, error) {
	for _, c := range chromiumCandidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("chromium executable not found, set browser.chromium.path: %w", engine.ErrUnsupportedKind)
}

// waitDevtoolsURL 从浏览器 stderr 中读取 DevTools 地址，其余输出丢弃
func waitDevtoolsURL(ctx context.Context, r io.Reader) (string, error) {
	found := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sent := false
		for sc.Scan() {
			if sent {
				continue
			}
			if m := devtoolsLine.FindStringSubmatch(sc.Text()); m != nil {
				found <- m[1]
				sent = true
			}
		}
		if !sent {
			close(found)
		}
	}()
	select {
	case ws, ok := <-found:
		if !ok {
			return "", errors.New("browser exited before devtools became available")
		}
		return ws, nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for devtools: %w", ctx.Err())
	}
}

// Browser 一个浏览器进程，负责管理其下的浏览上下文
type Browser struct {
	kind    domain.BrowserKind
	cmd     *exec.Cmd
	conn    *rpcc.Conn
	client  *cdp.Client
	host    string
	dataDir string
	video   config.Video
	log     logger.Logger

	mu       sync.Mutex
	contexts map[browser.ContextID]*Context
	closed   bool
}

func (b *Browser) Kind() domain.BrowserKind { return b.kind }

// NewContext 创建隔离的浏览上下文
func (b *Browser) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.Context, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, engine.ErrClosed
	}

	reply, err := b.client.Target.CreateBrowserContext(ctx, target.NewCreateBrowserContextArgs())
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	c := newContext(b, reply.BrowserContextID, opts)

	b.mu.Lock()
	b.contexts[reply.BrowserContextID] = c
	b.mu.Unlock()
	b.log.Debug("浏览上下文已创建", "context", string(reply.BrowserContextID))
	return c, nil
}

func (b *Browser) forget(id browser.ContextID) {
	b.mu.Lock()
	delete(b.contexts, id)
	b.mu.Unlock()
}

// pageWebSocket 页面目标的调试地址
func (b *Browser) pageWebSocket(id target.ID) string {
	return "ws://" + b.host + "/devtools/page/" + string(id)
}

// Close 关闭所有上下文并结束进程
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	contexts := make([]*Context, 0, len(b.contexts))
	for _, c := range b.contexts {
		contexts = append(contexts, c)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range contexts {
		if err := c.Close(ctx); err != nil {
			b.log.Err(err, "关闭浏览上下文失败")
		}
	}

	var errs []error
	if err := b.conn.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		errs = append(errs, err)
	}
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	if err := os.RemoveAll(b.dataDir); err != nil {
		errs = append(errs, err)
	}
	b.log.Info("浏览器已关闭")
	return errors.Join(errs...)
}
