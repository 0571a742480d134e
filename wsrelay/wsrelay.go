// Package wsrelay implements postmsg.LowerTransport over a websocket
// connection, for carrying the transport core's key/value app-message
// traffic between a host process and a remote peer reachable over the
// network instead of a real device radio.
package wsrelay

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// envelope is the wire shape for one app-message dict entry: a single
// key/value pair per message, matching the one-KV-at-a-time delivery
// LowerTransport.SendKV expects its callback to correspond to.
type envelope struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Relay is a postmsg.LowerTransport backed by a *websocket.Conn. One Relay
// wraps one connection; Dial and Accept construct the two ends of a pair.
//
// Grounded on zkoranges-go-claw/internal/gateway.gateway.go's client
// struct and read/write-loop shape (single-writer mutex, a per-connection
// goroutine pumping wsjson.Read into a dispatch function), narrowed from
// a multi-method JSON-RPC server to a single envelope type carrying one
// KV pair per frame.
type Relay struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[string][]func(args ...any)

	closed chan struct{}
}

// Dial opens a websocket connection to url and wraps it as a Relay.
func Dial(ctx context.Context, url string) (*Relay, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newRelay(conn), nil
}

// Accept upgrades an already-accepted *websocket.Conn (e.g. from
// websocket.Accept inside an http.Handler) into a Relay.
func Accept(conn *websocket.Conn) *Relay {
	return newRelay(conn)
}

func newRelay(conn *websocket.Conn) *Relay {
	r := &Relay{
		conn:      conn,
		listeners: make(map[string][]func(args ...any)),
		closed:    make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// SendKV implements postmsg.LowerTransport. The dict is sent as one
// envelope frame per key — SendKV is documented to carry a single
// logical unit (a control dict or one chunk's Chunk key), so in practice
// len(dict) == 1, but every key is still flushed independently for
// callers that pass more.
func (r *Relay) SendKV(dict map[string]any, onSuccess, onFailure func()) {
	ctx := context.Background()
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	for k, v := range dict {
		if err := wsjson.Write(ctx, r.conn, envelope{Key: k, Value: v}); err != nil {
			if onFailure != nil {
				onFailure()
			}
			return
		}
	}
	if onSuccess != nil {
		onSuccess()
	}
}

// On registers handler for event. Since a Relay always wraps an
// already-open connection, every handler registered for "ready" is invoked
// once, with no arguments, from a new goroutine started at registration;
// "appmessage" fires on every inbound envelope with args (key, value).
func (r *Relay) On(event string, handler func(args ...any)) error {
	if handler == nil {
		return errors.New("wsrelay: handler must not be nil")
	}
	r.mu.Lock()
	r.listeners[event] = append(r.listeners[event], handler)
	r.mu.Unlock()

	if event == "ready" {
		go handler()
	}
	return nil
}

// Off removes handler's event registration. Since Go func values aren't
// comparable, this implementation (unlike postmsg.EventBus) can only
// remove by clearing all handlers for event; callers needing per-handler
// removal should keep a single shared handler and gate it internally.
func (r *Relay) Off(event string, handler func(args ...any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, event)
	return nil
}

func (r *Relay) emit(event string, args ...any) {
	r.mu.Lock()
	handlers := append([]func(args ...any){}, r.listeners[event]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(args...)
	}
}

// byteValueKeys holds the control-message keys whose value is a raw byte
// slice on the Go side. encoding/json has no native bytes type: a []byte
// value marshals as a base64 string and comes back out of an any-typed
// field as a plain string, so those two keys need an explicit decode step
// on the way in.
var byteValueKeys = map[string]bool{"ResetComplete": true, "Chunk": true}

func (r *Relay) readLoop() {
	ctx := context.Background()
	for {
		var env envelope
		if err := wsjson.Read(ctx, r.conn, &env); err != nil {
			close(r.closed)
			return
		}
		value := env.Value
		if byteValueKeys[env.Key] {
			if s, ok := value.(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
					value = decoded
				}
			}
		}
		r.emit("appmessage", env.Key, value)
	}
}

// Close closes the underlying connection with a normal closure status.
func (r *Relay) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "bye")
}
