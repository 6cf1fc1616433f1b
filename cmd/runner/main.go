package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raja-9679/TraceIQ-sub000/internal/artifact"
	"github.com/raja-9679/TraceIQ-sub000/internal/cdp"
	"github.com/raja-9679/TraceIQ-sub000/internal/config"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/internal/runner"
	"github.com/raja-9679/TraceIQ-sub000/internal/storage"
	"github.com/raja-9679/TraceIQ-sub000/pkg/api"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// exitFailed 测试失败时的退出码，与启动错误区分
const exitFailed = 2

// main 是命令行入口：读取 RunRequest，执行后输出 RunResult
func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	requestPath := flag.String("request", "-", "RunRequest JSON file, - reads stdin")
	outPath := flag.String("out", "", "write the RunResult JSON here instead of stdout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, *configPath, *requestPath, *outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(1)
	}
	if res.Failed() {
		os.Exit(exitFailed)
	}
}

func run(ctx context.Context, configPath, requestPath, outPath string) (*domain.RunResult, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	l, err := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File: logger.FileOptions{
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := readRequest(requestPath)
	if err != nil {
		return nil, err
	}

	// 产物存储不可用时仍执行，上传阶段跳过
	store, err := artifact.Open(ctx, cfg.Artifacts, l)
	if err != nil {
		l.Err(err, "产物存储不可用")
		store = nil
	}

	db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	launcher := cdp.NewLauncher(cfg.Browser, cfg.Video, l)
	var provider engine.Provider
	if cfg.Browser.Pool.Enabled {
		pool := engine.NewPool(launcher, cfg.Browser.Pool.IdleTimeout, l)
		defer pool.Close()
		provider = pool
	} else {
		handle := engine.NewHandle(launcher, l)
		defer handle.Stop()
		provider = handle
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, l)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	r := runner.New(runner.Config{
		Provider:    provider,
		Store:       store,
		Bucket:      cfg.Artifacts.Bucket,
		ArtifactDir: cfg.Artifacts.Dir,
		Runner:      cfg.Runner,
		Video:       cfg.Video,
		Metrics:     runner.NewMetrics(reg),
		Logger:      l,
	})
	svc := api.NewService(r, storage.NewRunRepo(db), l)

	res, err := svc.RunTest(ctx, req)
	if err != nil {
		// 结果未保存不影响输出
		l.Warn("执行历史未保存", "error", err.Error())
	}
	if err := writeResult(outPath, res); err != nil {
		return nil, err
	}
	return res, nil
}

func readRequest(path string) (domain.RunRequest, error) {
	var in io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.RunRequest{}, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		in = f
	}
	var req domain.RunRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return domain.RunRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func writeResult(path string, res *domain.RunResult) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	b = append(b, '\n')
	if path == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func serveMetrics(addr string, reg *prometheus.Registry, l logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Err(err, "指标服务退出")
		}
	}()
	l.Info("指标服务已启动", "addr", addr)
	return srv
}
