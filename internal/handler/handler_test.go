package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raja-9679/TraceIQ-sub000/internal/engine"
	"github.com/raja-9679/TraceIQ-sub000/internal/policy"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
	"github.com/raja-9679/TraceIQ-sub000/pkg/traffic"
)

type recordingRoute struct {
	req   *traffic.Request
	calls int
	got   engine.Overrides
}

func (r *recordingRoute) Request() *traffic.Request { return r.req }

func (r *recordingRoute) Continue(ctx context.Context, o engine.Overrides) error {
	r.calls++
	r.got = o
	return nil
}

func route(u string, nav bool) *recordingRoute {
	req := traffic.NewRequest()
	req.ID = u
	req.URL = u
	req.Method = "GET"
	req.IsNavigation = nav
	req.Headers.Set("Accept", "*/*")
	return &recordingRoute{req: req}
}

func TestHandleRouteModifiesSourceRequests(t *testing.T) {
	st := policy.NewState(domain.Settings{
		Headers: map[string]string{"X-Test": "1"},
		Params:  map[string]string{"v": "2"},
	}, nil)
	h := New(Config{State: st})

	nav := route("https://a.test/", true)
	h.HandleRoute(context.Background(), nav)
	require.Equal(t, 1, nav.calls)
	assert.Equal(t, "https://a.test/?v=2", nav.got.URL)
	assert.Equal(t, "1", nav.got.Headers.Get("X-Test"))
	assert.Equal(t, "*/*", nav.got.Headers.Get("accept"))

	other := route("https://tracker.test/p", false)
	h.HandleRoute(context.Background(), other)
	require.Equal(t, 1, other.calls)
	assert.Equal(t, engine.Overrides{}, other.got)

	modified, passed := h.Stats()
	assert.Equal(t, int64(1), modified)
	assert.Equal(t, int64(1), passed)
}

func TestHandleRouteHeadersOnly(t *testing.T) {
	st := policy.NewState(domain.Settings{
		Headers:        map[string]string{"X-Test": "1"},
		AllowedDomains: []domain.DomainRule{{Domain: "partner.test", AllowHeaders: true}},
	}, nil)
	h := New(Config{State: st})

	r := route("https://partner.test/x", false)
	h.HandleRoute(context.Background(), r)
	assert.Empty(t, r.got.URL)
	assert.Equal(t, "1", r.got.Headers.Get("x-test"))
}
