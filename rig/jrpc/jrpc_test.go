package jrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swdunlop/pagerig/rig/jrpc/internal/protocol"
	"nhooyr.io/websocket"
)

type sum struct {
	A, B int
}

func dial(t *testing.T, options ...Option) (context.Context, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(Handle(options...))
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	c, _, err := websocket.Dial(ctx, `ws`+strings.TrimPrefix(srv.URL, `http`), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return ctx, c
}

func roundTrip(t *testing.T, ctx context.Context, c *websocket.Conn, req string) map[string]any {
	t.Helper()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(req)))
	_, msg, err := c.Read(ctx)
	require.NoError(t, err)
	var rsp map[string]any
	require.NoError(t, json.Unmarshal(msg, &rsp))
	return rsp
}

func TestFn(t *testing.T) {
	ctx, c := dial(t,
		Fn(`sum`, func(_ *Scope, in sum) (int, error) { return in.A + in.B, nil }),
		Fn(`fail`, func(_ *Scope, _ struct{}) (int, error) { return 0, errors.New(`nope`) }),
	)

	rsp := roundTrip(t, ctx, c, `{"id":"1","method":"sum","params":{"A":2,"B":3}}`)
	require.Equal(t, `1`, rsp[`id`])
	require.Equal(t, float64(5), rsp[`result`])
	require.Nil(t, rsp[`error`])

	rsp = roundTrip(t, ctx, c, `{"id":"2","method":"fail"}`)
	require.Equal(t, `2`, rsp[`id`])
	require.Equal(t, map[string]any{`code`: float64(500), `message`: `nope`}, rsp[`error`])
}

func TestUnknownFunction(t *testing.T) {
	ctx, c := dial(t)
	rsp := roundTrip(t, ctx, c, `{"id":"1","method":"missing"}`)
	require.Equal(t, float64(404), rsp[`error`].(map[string]any)[`code`])
}

func TestBadParams(t *testing.T) {
	ctx, c := dial(t, Fn(`sum`, func(_ *Scope, in sum) (int, error) { return in.A + in.B, nil }))
	rsp := roundTrip(t, ctx, c, `{"id":"1","method":"sum","params":"oops"}`)
	require.Equal(t, float64(406), rsp[`error`].(map[string]any)[`code`])
}

func TestProc(t *testing.T) {
	seen := make(chan string, 1)
	ctx, c := dial(t, Proc(`log`, func(_ *Scope, msg string) { seen <- msg }))
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"method":"log","params":"hello"}`)))
	select {
	case msg := <-seen:
		require.Equal(t, `hello`, msg)
	case <-ctx.Done():
		t.Fatal(`notification not handled`)
	}
}

func TestBroadcast(t *testing.T) {
	var hub Hub
	ctx, c := dial(t, Sessions(&hub),
		Fn(`ping`, func(_ *Scope, _ struct{}) (string, error) { return `pong`, nil }),
	)
	// a round trip guarantees the session has joined the hub
	rsp := roundTrip(t, ctx, c, `{"id":"1","method":"ping"}`)
	require.Equal(t, `pong`, rsp[`result`])

	require.Equal(t, 1, hub.Broadcast(ctx, `built`, map[string]int{`pages`: 2}))
	_, msg, err := c.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"method":"built","params":{"pages":2}}`, string(msg))
}

func TestBroadcastWithoutSessions(t *testing.T) {
	var hub Hub
	require.Zero(t, hub.Broadcast(context.Background(), `built`, nil))
}

func TestScopeAfterFail(t *testing.T) {
	var sent [][]byte
	scope := For(context.Background(), protocol.Request{ID: `7`, Method: `x`}, func(bin []byte) error {
		sent = append(sent, bin)
		return nil
	})
	require.Same(t, scope, From(scope))
	require.NoError(t, scope.Fail(protocol.NotFound, `gone`))
	require.Error(t, scope.Succ(1))
	require.Error(t, scope.Notify(`late`, nil))
	require.Len(t, sent, 1)
	require.JSONEq(t, `{"id":"7","result":null,"error":{"code":404,"message":"gone"},"end":false}`, string(sent[0]))
}
