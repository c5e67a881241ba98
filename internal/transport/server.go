/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yunqi/lighthouse-core/internal/goroutine"
	"github.com/yunqi/lighthouse-core/internal/msgid"
	"github.com/yunqi/lighthouse-core/internal/persistence"
	"github.com/yunqi/lighthouse-core/internal/router"
	"github.com/yunqi/lighthouse-core/internal/session"
	"github.com/yunqi/lighthouse-core/internal/store"
	"github.com/yunqi/lighthouse-core/internal/xlog"
	"github.com/yunqi/lighthouse-core/internal/xtrace"
)

// Options configures a Server: tcp/websocket listen addresses plus the
// quota/identity knobs internal/session needs per client.
type Options struct {
	TCPListen       string
	WebsocketListen string

	NodeID          uint16
	MaxQoS          byte
	InflightMaximum uint16
	MaxPacketSize   uint32
	Limits          session.Limits

	Hooks    persistence.Hooks
	PoolSize int
}

func (o *Options) setDefaults() {
	if o.TCPListen == "" {
		o.TCPListen = ":1883"
	}
	if o.MaxQoS == 0 {
		o.MaxQoS = 2
	}
	if o.InflightMaximum == 0 {
		o.InflightMaximum = 20
	}
}

// Server owns the TCP/websocket accept loops, the broker-wide router and
// message store, and the table of live Sessions. It is the composition
// root that turns an accepted connection into an internal/session Session.
type Server struct {
	opts Options

	tcpListener net.Listener
	httpServer  *http.Server
	upgrader    websocket.Upgrader

	manager *Manager
	router  *router.Router
	store   *store.Store
	hooks   persistence.Hooks
	msgid   *msgid.Generator
	pool    *goroutine.Pool

	mu       sync.Mutex
	sessions map[string]*session.Session

	log    *xlog.Log
	tracer trace.Tracer
}

// New builds a Server from opts. It does not start listening; call ServeTCP
// and/or ServeWebsocket.
func New(opts Options) (*Server, error) {
	opts.setDefaults()

	hooks := opts.Hooks
	if hooks == nil {
		hooks = persistence.NoopHooks{}
	}

	pool, err := goroutine.NewPool(opts.PoolSize)
	if err != nil {
		return nil, err
	}

	st := store.New(hooks)
	return &Server{
		opts:     opts,
		manager:  NewManager(),
		router:   router.New(st),
		store:    st,
		hooks:    hooks,
		msgid:    msgid.NewGenerator(opts.NodeID),
		pool:     pool,
		sessions: make(map[string]*session.Session),
		log:      xlog.LoggerModule("transport"),
		tracer:   otel.GetTracerProvider().Tracer(xtrace.Name),
	}, nil
}

// ServeTCP accepts connections on opts.TCPListen until the listener is
// closed by Stop.
func (s *Server) ServeTCP() error {
	ln, err := net.Listen("tcp", s.opts.TCPListen)
	if err != nil {
		return err
	}
	s.tcpListener = ln
	s.log.Info("start tcp", zap.String("addr", s.opts.TCPListen))

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		s.pool.Go(func() {
			s.handleConn(conn)
		})
	}
}

// ServeWebsocket upgrades every request on opts.WebsocketListen's "/mqtt"
// path to a WebSocket carrying the "mqtt" subprotocol and drives it through
// the same handleConn path as a TCP client. Grounded on
// other_examples/53a936a1_adred-codev-ws_poc's upgrade-then-dispatch shape.
func (s *Server) ServeWebsocket() error {
	s.upgrader = websocket.Upgrader{
		Subprotocols:    []string{"mqtt"},
		CheckOrigin:     func(*http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.pool.Go(func() {
			s.handleConn(newWSConn(conn))
		})
	})

	s.httpServer = &http.Server{Addr: s.opts.WebsocketListen, Handler: mux}
	s.log.Info("start websocket", zap.String("addr", s.opts.WebsocketListen))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes both listeners and releases the worker pool. In-flight
// connections are not forcibly closed; they drain on their own read loop's
// next error.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error
	if s.tcpListener != nil {
		if err := s.tcpListener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pool.Release()
	return firstErr
}

type rawConn interface {
	io.Reader
	io.Writer
	io.Closer
}
