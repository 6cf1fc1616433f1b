package cdp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mafredri/cdp/protocol/page"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/time/rate"

	"github.com/raja-9679/TraceIQ-sub000/internal/config"
)

const frameName = "frame-%05d.jpg"

// screencast 页面录屏，帧按配置的帧率落盘，关闭上下文时交给 ffmpeg 编码
type screencast struct {
	dir     string
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}

	mu sync.Mutex
	n  int
}

func (p *Page) startScreencast(ctx context.Context, video config.Video) error {
	dir, err := os.MkdirTemp("", "traceiq-frames-*")
	if err != nil {
		return err
	}
	sctx, cancel := context.WithCancel(p.lctx)
	frames, err := p.client.Page.ScreencastFrame(sctx)
	if err != nil {
		cancel()
		os.RemoveAll(dir)
		return fmt.Errorf("subscribe screencast: %w", err)
	}

	args := page.NewStartScreencastArgs().SetFormat("jpeg").SetQuality(80)
	if video.Width > 0 && video.Height > 0 {
		args.SetMaxWidth(video.Width).SetMaxHeight(video.Height)
	}
	if err := p.client.Page.StartScreencast(ctx, args); err != nil {
		frames.Close()
		cancel()
		os.RemoveAll(dir)
		return fmt.Errorf("start screencast: %w", err)
	}

	fps := video.FrameRate
	if fps <= 0 {
		fps = 10
	}
	sc := &screencast{
		dir:     dir,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.mu.Lock()
	p.sc = sc
	p.mu.Unlock()

	go func() {
		defer close(sc.done)
		defer frames.Close()
		for {
			ev, err := frames.Recv()
			if err != nil {
				return
			}
			// 每帧都必须确认，否则浏览器停止推送
			if err := p.client.Page.ScreencastFrameAck(sctx, page.NewScreencastFrameAckArgs(ev.SessionID)); err != nil {
				return
			}
			if sc.limiter.Allow() {
				sc.write(ev.Data, p)
			}
		}
	}()
	return nil
}

func (sc *screencast) write(data []byte, p *Page) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	name := filepath.Join(sc.dir, fmt.Sprintf(frameName, sc.n))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		p.log.Debug("写入录屏帧失败", "error", err.Error())
		return
	}
	sc.n++
}

// stopScreencast 停止录屏，没有帧时清理目录并返回 nil
func (p *Page) stopScreencast(ctx context.Context) *screencast {
	p.mu.Lock()
	sc := p.sc
	p.sc = nil
	p.mu.Unlock()
	if sc == nil {
		return nil
	}
	_ = p.client.Page.StopScreencast(ctx)
	sc.cancel()
	<-sc.done

	sc.mu.Lock()
	n := sc.n
	sc.mu.Unlock()
	if n == 0 {
		os.RemoveAll(sc.dir)
		return nil
	}
	return sc
}

// encode 把帧序列编码为 webm
func (sc *screencast) encode(out string, video config.Video) error {
	fps := video.FrameRate
	if fps <= 0 {
		fps = 10
	}
	stream := ffmpeg.Input(filepath.Join(sc.dir, frameName), ffmpeg.KwArgs{"framerate": fps}).
		Output(out, ffmpeg.KwArgs{"c:v": "libvpx", "pix_fmt": "yuv420p"}).
		OverWriteOutput()
	if video.FFmpegPath != "" {
		stream = stream.SetFfmpegPath(video.FFmpegPath)
	}
	if err := stream.Run(); err != nil {
		return fmt.Errorf("encode video %s: %w", out, err)
	}
	return nil
}
