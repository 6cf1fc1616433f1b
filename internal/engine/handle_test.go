package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/engine/enginetest"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

func TestHandleEnsureReusesSameKind(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.Options{})
	h := engine.NewHandle(l, nil)
	ctx := context.Background()

	first, err := h.Ensure(ctx, domain.BrowserChromium)
	require.NoError(t, err)
	second, err := h.Ensure(ctx, domain.BrowserChromium)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, l.Launches(domain.BrowserChromium))
}

func TestHandleEnsureSwitchesKind(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.Options{})
	h := engine.NewHandle(l, nil)
	ctx := context.Background()

	chromium, err := h.Ensure(ctx, domain.BrowserChromium)
	require.NoError(t, err)
	ff, err := h.Ensure(ctx, domain.BrowserFirefox)
	require.NoError(t, err)

	assert.Equal(t, domain.BrowserFirefox, ff.Kind())
	assert.True(t, chromium.(*enginetest.Browser).Closed())
	assert.Equal(t, 1, l.Launches(domain.BrowserFirefox))
}

func TestHandleStop(t *testing.T) {
	h := engine.NewHandle(enginetest.NewLauncher(enginetest.Options{}), nil)
	require.NoError(t, h.Stop())

	b, err := h.Ensure(context.Background(), domain.BrowserWebKit)
	require.NoError(t, err)
	require.NoError(t, h.Stop())
	assert.True(t, b.(*enginetest.Browser).Closed())
	assert.Nil(t, h.Current())
	require.NoError(t, h.Stop())
}

func TestHandleLaunchFailure(t *testing.T) {
	boom := errors.New("no binary")
	h := engine.NewHandle(enginetest.NewLauncher(enginetest.Options{LaunchErr: boom}), nil)
	_, err := h.Ensure(context.Background(), domain.BrowserChromium)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, h.Current())
}

func TestPoolKeepsOneInstancePerKind(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.Options{})
	p := engine.NewPool(l, 0, nil)
	defer p.Close()
	ctx := context.Background()

	c1, rel1, err := p.Acquire(ctx, domain.BrowserChromium)
	require.NoError(t, err)
	f1, rel2, err := p.Acquire(ctx, domain.BrowserFirefox)
	require.NoError(t, err)
	c2, rel3, err := p.Acquire(ctx, domain.BrowserChromium)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.False(t, c1.(*enginetest.Browser).Closed())
	assert.False(t, f1.(*enginetest.Browser).Closed())
	assert.Equal(t, 2, p.InUse(domain.BrowserChromium))
	assert.Equal(t, 1, l.Launches(domain.BrowserChromium))

	rel1()
	rel1()
	rel3()
	rel2()
	assert.Equal(t, 0, p.InUse(domain.BrowserChromium))
}

func TestPoolIdleTeardown(t *testing.T) {
	l := enginetest.NewLauncher(enginetest.Options{})
	p := engine.NewPool(l, 20*time.Millisecond, nil)
	defer p.Close()

	b, release, err := p.Acquire(context.Background(), domain.BrowserChromium)
	require.NoError(t, err)
	release()

	assert.Eventually(t, func() bool { return b.(*enginetest.Browser).Closed() }, time.Second, 5*time.Millisecond)

	_, release, err = p.Acquire(context.Background(), domain.BrowserChromium)
	require.NoError(t, err)
	release()
	assert.Equal(t, 2, l.Launches(domain.BrowserChromium))
}

func TestPoolClose(t *testing.T) {
	p := engine.NewPool(enginetest.NewLauncher(enginetest.Options{}), time.Minute, nil)
	b, release, err := p.Acquire(context.Background(), domain.BrowserChromium)
	require.NoError(t, err)
	release()

	require.NoError(t, p.Close())
	assert.True(t, b.(*enginetest.Browser).Closed())

	_, _, err = p.Acquire(context.Background(), domain.BrowserChromium)
	assert.ErrorIs(t, err, engine.ErrClosed)
}
