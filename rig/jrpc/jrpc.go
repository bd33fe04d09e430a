// Package jrpc serves a subset of JSON-RPC 2.0 over a WebSocket, which lets development tools running in a page ask
// the rig about the site it is serving and hear about rebuilds without polling.
package jrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig/api"
	"github.com/swdunlop/pagerig/rig/jrpc/internal/protocol"
	"nhooyr.io/websocket"
)

// API mounts the RPC socket at route.
func API(route string, options ...Option) api.Option {
	return api.Handle(route, Handle(options...))
}

// Handle returns a handler that upgrades each request to a WebSocket and answers RPC requests on it until the client
// goes away.
func Handle(options ...Option) http.Handler {
	svc := &service{
		readLimit: -1,
		procs:     map[string]Handler{},
		calls:     map[string]Handler{},
	}
	svc.handler = svc.dispatch
	for _, option := range options {
		option(svc)
	}
	return svc
}

// An Option affects the rigging of an RPC API.
type Option func(*service)

// ReadLimit caps the size of a message read from a client; -1, the default, imposes no limit.
func ReadLimit(limit int64) Option {
	return func(svc *service) { svc.readLimit = limit }
}

// Use wraps every request handler with middleware, the last Use is outermost.
func Use(fn func(Handler) Handler) Option {
	return func(svc *service) { svc.handler = fn(svc.handler) }
}

// Sessions registers every connection with hub so that the hub can broadcast notifications to them.
func Sessions(hub *Hub) Option {
	return func(svc *service) { svc.hub = hub }
}

// Proc handles notifications, requests without an ID, for function.  Nothing is sent back unless decoding the params
// fails.
func Proc[I any](function string, fn func(*Scope, I)) Option {
	return func(svc *service) {
		svc.procs[function] = func(ctx *Scope) {
			in, err := decode[I](ctx.Params)
			if err != nil {
				_ = ctx.Fail(protocol.NotAcceptable, err.Error())
				return
			}
			fn(ctx, in)
		}
	}
}

// Fn handles requests for function, answering with its result or its error.
func Fn[I, O any](function string, fn func(*Scope, I) (O, error)) Option {
	return func(svc *service) {
		svc.calls[function] = func(ctx *Scope) {
			in, err := decode[I](ctx.Params)
			if err != nil {
				_ = ctx.Fail(protocol.NotAcceptable, err.Error())
				return
			}
			out, err := fn(ctx, in)
			if err != nil {
				_ = ctx.Fail(protocol.Internal, err.Error())
				return
			}
			_ = ctx.Succ(out)
		}
	}
}

// decode decodes params, treating absent params as the zero value.
func decode[I any](params json.RawMessage) (in I, err error) {
	if len(params) == 0 {
		return
	}
	err = json.Unmarshal(params, &in)
	if err != nil {
		err = fmt.Errorf(`%w while decoding input`, err)
	}
	return
}

// A Handler handles one RPC request.
type Handler func(*Scope)

// A Scope is the context of one RPC request.
type Scope struct {
	context.Context
	protocol.Request
	send func(bin []byte) error
}

// For wraps a request in a Scope that answers through send; useful for calling handlers without a socket.
func For(ctx context.Context, req protocol.Request, send func(bin []byte) error) *Scope {
	scope := &Scope{Request: req, send: send}
	scope.Context = context.WithValue(ctx, scopeKey{}, scope)
	return scope
}

// From returns the Scope of the request handled by ctx, or nil.
func From(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

type scopeKey struct{}

// Succ answers the request with a result.
func (ctx *Scope) Succ(result any) error { return ctx.respond(protocol.Response{Result: result}) }

// Fail answers the request with an error; nothing more can be sent through the scope afterward.
func (ctx *Scope) Fail(code int, msg string) error {
	err := ctx.respond(protocol.Response{Error: &protocol.Error{Code: code, Message: msg}})
	ctx.send = nil
	return err
}

// Notify sends a notification to the client.  Strict JSON-RPC 2.0 clients do not expect these.
func (ctx *Scope) Notify(method string, params any) error {
	if ctx.send == nil {
		return errClosed
	}
	return notify(ctx.send, method, params)
}

// Call sends a request to the client without waiting for an answer.
func (ctx *Scope) Call(method string, params any) error {
	if ctx.send == nil {
		return errClosed
	}
	js, err := json.Marshal(params)
	if err != nil {
		return err
	}
	js, err = json.Marshal(protocol.Request{Method: method, Params: js})
	if err != nil {
		return err
	}
	return ctx.send(js)
}

func (ctx *Scope) respond(ret protocol.Response) error {
	if ctx.send == nil {
		return errClosed
	}
	ret.ID = ctx.ID
	msg, err := json.Marshal(&ret)
	if err != nil {
		return fmt.Errorf(`%w while encoding response`, err)
	}
	return ctx.send(msg)
}

var errClosed = fmt.Errorf(`response not supported`)

func notify(send func([]byte) error, method string, params any) error {
	js, err := json.Marshal(protocol.Notification{Method: method, Params: params})
	if err != nil {
		return err
	}
	return send(js)
}

// A Hub tracks the open sessions of one or more RPC sockets.  The zero value is ready to use.
type Hub struct {
	control  sync.Mutex
	sessions map[*session]struct{}
}

// Broadcast sends a notification to every open session and returns how many sessions it reached.
func (hub *Hub) Broadcast(ctx context.Context, method string, params any) int {
	hub.control.Lock()
	sessions := make([]*session, 0, len(hub.sessions))
	for s := range hub.sessions {
		sessions = append(sessions, s)
	}
	hub.control.Unlock()

	n := 0
	for _, s := range sessions {
		err := notify(s.send, method, params)
		if err != nil {
			hog.From(ctx).Debug().Err(err).Str(`method`, method).Msg(`could not notify session`)
			continue
		}
		n++
	}
	return n
}

func (hub *Hub) join(s *session) {
	hub.control.Lock()
	defer hub.control.Unlock()
	if hub.sessions == nil {
		hub.sessions = map[*session]struct{}{}
	}
	hub.sessions[s] = struct{}{}
}

func (hub *Hub) leave(s *session) {
	hub.control.Lock()
	defer hub.control.Unlock()
	delete(hub.sessions, s)
}

type service struct {
	handler   Handler
	readLimit int64
	hub       *Hub
	procs     map[string]Handler
	calls     map[string]Handler
}

// ServeHTTP implements http.Handler.
func (svc *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		hog.For(r).Warn().Err(err).Msg(`could not accept JSON-RPC socket`)
		return
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(svc.readLimit)

	s := &session{conn: c, ctx: r.Context()}
	if svc.hub != nil {
		svc.hub.join(s)
		defer svc.hub.leave(s)
	}
	err = s.serve(svc.handler)
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`JSON-RPC error`)
	}
}

func (svc *service) dispatch(ctx *Scope) {
	table := svc.calls
	if ctx.ID == `` {
		table = svc.procs
	}
	handler := table[ctx.Method]
	if handler == nil {
		_ = ctx.Fail(protocol.NotFound, fmt.Sprintf(`function %q not found`, ctx.Method))
		return
	}
	handler(ctx)
}

// A session is one client socket.  Requests are handled concurrently, so a slow build does not hold up a listing.
type session struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s *session) send(bin []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageText, bin)
}

func (s *session) serve(handle Handler) error {
	var group sync.WaitGroup
	defer group.Wait()
	for {
		mt, msg, err := s.conn.Read(s.ctx)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) >= 0:
			return nil
		default:
			return err
		}
		if mt != websocket.MessageText {
			continue
		}
		var req protocol.Request
		err = json.Unmarshal(msg, &req)
		if err != nil {
			return fmt.Errorf(`%w while decoding request`, err)
		}
		group.Add(1)
		go func() {
			defer group.Done()
			handle(For(s.ctx, req, s.send))
		}()
	}
}
