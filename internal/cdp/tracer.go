package cdp

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/tracing"
	"github.com/tidwall/sjson"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
)

var traceCategories = []string{
	"devtools.timeline",
	"disabled-by-default-devtools.timeline",
	"disabled-by-default-devtools.timeline.frame",
	"disabled-by-default-devtools.screenshot",
	"blink.user_timing",
	"loading",
	"netlog",
	"v8.execute",
}

// tracer 收集一次追踪的全部事件
type tracer struct {
	client *cdp.Client
	log    logger.Logger
	cancel context.CancelFunc
	start  time.Time

	mu     sync.Mutex
	events []json.RawMessage
	done   chan struct{}
}

func startTracer(ctx context.Context, c *cdp.Client, log logger.Logger) (*tracer, error) {
	sctx, cancel := context.WithCancel(context.Background())
	dc, err := c.Tracing.DataCollected(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe trace data: %w", err)
	}
	tc, err := c.Tracing.TracingComplete(sctx)
	if err != nil {
		dc.Close()
		cancel()
		return nil, fmt.Errorf("subscribe trace complete: %w", err)
	}

	args := tracing.NewStartArgs().
		SetTransferMode("ReportEvents").
		SetTraceConfig(tracing.TraceConfig{IncludedCategories: traceCategories})
	if err := c.Tracing.Start(ctx, args); err != nil {
		dc.Close()
		tc.Close()
		cancel()
		return nil, fmt.Errorf("start tracing: %w", err)
	}

	t := &tracer{client: c, log: log, cancel: cancel, start: time.Now(), done: make(chan struct{})}
	go t.collect(sctx, dc, tc)
	log.Debug("追踪已开始")
	return t, nil
}

func (t *tracer) collect(ctx context.Context, dc tracing.DataCollectedClient, tc tracing.CompleteClient) {
	defer close(t.done)
	defer dc.Close()
	defer tc.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-dc.Ready():
			ev, err := dc.Recv()
			if err != nil {
				return
			}
			t.mu.Lock()
			t.events = append(t.events, ev.Value...)
			t.mu.Unlock()
		case <-tc.Ready():
			if _, err := tc.Recv(); err != nil {
				return
			}
			// 完成事件之前的数据可能仍在缓冲中
			for {
				select {
				case <-dc.Ready():
					ev, err := dc.Recv()
					if err != nil {
						return
					}
					t.mu.Lock()
					t.events = append(t.events, ev.Value...)
					t.mu.Unlock()
				default:
					return
				}
			}
		}
	}
}

// stop 结束追踪并把事件写成 zip，内含 trace.json
func (t *tracer) stop(ctx context.Context, path string) error {
	defer t.cancel()
	if err := t.client.Tracing.End(ctx); err != nil {
		return fmt.Errorf("end tracing: %w", err)
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("wait for trace data: %w", ctx.Err())
	}

	t.mu.Lock()
	events := t.events
	t.mu.Unlock()

	doc, err := traceDocument(events, t.start)
	if err != nil {
		return err
	}
	if err := writeTraceZip(path, doc); err != nil {
		return err
	}
	t.log.Debug("追踪已写入", "path", path, "events", len(events))
	return nil
}

// abort 放弃追踪，不写文件
func (t *tracer) abort(ctx context.Context) {
	if err := t.client.Tracing.End(ctx); err != nil {
		t.log.Debug("结束追踪失败", "error", err.Error())
	}
	t.cancel()
}

func traceDocument(events []json.RawMessage, start time.Time) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, ev := range events {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(ev)
	}
	buf.WriteByte(']')

	doc, err := sjson.SetRawBytes([]byte(`{}`), "traceEvents", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("build trace: %w", err)
	}
	if doc, err = sjson.SetBytes(doc, "metadata.source", "traceiq"); err != nil {
		return nil, fmt.Errorf("build trace: %w", err)
	}
	if doc, err = sjson.SetBytes(doc, "metadata.startTime", start.UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("build trace: %w", err)
	}
	return doc, nil
}

func writeTraceZip(path string, doc []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("trace.json")
	if err == nil {
		_, err = w.Write(doc)
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write trace %s: %w", path, err)
	}
	return nil
}
