package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// uploadConcurrency 同时进行的上传数
const uploadConcurrency = 4

// finalize 停止追踪、关闭上下文（落盘录屏）、上传产物并清理临时目录
//
// 上传失败只记录到 ArtifactErrors，不改变执行状态。
func (r *Runner) finalize(ctx context.Context, x *run) {
	res := x.result
	res.DurationMS = x.duration.Milliseconds()

	var tracePath, videoPath string
	if x.shared != nil {
		p := filepath.Join(x.dir, "trace.zip")
		if err := x.shared.StopTracing(ctx, p); err != nil {
			x.log.Warn("停止追踪失败", "error", err.Error())
		} else {
			tracePath = p
		}
		if err := x.shared.Close(ctx); err != nil {
			x.log.Err(err, "关闭浏览上下文失败")
		}
		videoPath = x.shared.VideoPath()
	}
	if x.release != nil {
		x.release()
	}

	r.upload(ctx, x, tracePath, videoPath)

	if err := os.RemoveAll(x.dir); err != nil {
		x.log.Warn("清理临时目录失败", "dir", x.dir, "error", err.Error())
	}

	res.NetworkEvents = x.rec.Events()
	if legacy, ok := x.rec.Legacy(); ok {
		status := legacy.Status
		res.ResponseStatus = &status
		res.RequestHeaders = legacy.RequestHeaders
		res.ResponseHeaders = legacy.ResponseHeaders
	}
}

type upload struct {
	kind  string
	key   string
	local string
	set   func(key string)
}

// upload 并发上传 trace、录屏与截图，截图顺序与拍摄顺序一致
func (r *Runner) upload(ctx context.Context, x *run, tracePath, videoPath string) {
	res := x.result
	prefix := fmt.Sprintf("runs/%d", x.req.RunID)

	var jobs []upload
	if tracePath != "" {
		jobs = append(jobs, upload{kind: "trace", key: prefix + "/trace.zip", local: tracePath,
			set: func(k string) { res.Trace = &k }})
	}
	if videoPath != "" {
		if _, err := os.Stat(videoPath); err == nil {
			jobs = append(jobs, upload{kind: "video", key: prefix + "/video.webm", local: videoPath,
				set: func(k string) { res.Video = &k }})
		} else {
			x.log.Debug("录屏文件不存在", "path", videoPath)
		}
	}
	shots := make([]string, len(x.shots))
	for i, p := range x.shots {
		i := i
		jobs = append(jobs, upload{kind: "screenshot", key: prefix + "/screenshots/" + filepath.Base(p), local: p,
			set: func(k string) { shots[i] = k }})
	}
	if len(jobs) == 0 {
		return
	}
	if r.cfg.Store == nil {
		x.log.Warn("未配置产物存储，跳过上传", "artifacts", len(jobs))
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			err := r.cfg.Store.Put(gctx, r.cfg.Bucket, j.key, j.local)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.ArtifactErrors = append(res.ArtifactErrors, fmt.Sprintf("%s: %v", j.key, err))
				r.cfg.Metrics.uploadFailed(j.kind)
				x.log.Err(err, "上传产物失败", "key", j.key)
				return nil
			}
			j.set(j.key)
			return nil
		})
	}
	_ = g.Wait()

	for _, k := range shots {
		if k != "" {
			res.Screenshots = append(res.Screenshots, k)
		}
	}
}
