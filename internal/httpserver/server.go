package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Server wraps http.Server so that Shutdown also ends long-lived requests.
// Request contexts derive from a base context that is cancelled streamGrace
// after Shutdown starts; event streams watch that context and return.
type Server struct {
	srv    *http.Server
	cancel context.CancelFunc
}

func NewServer(addr string, h http.Handler, streamGrace time.Duration) *Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(func() {
		// 给普通请求留出完成的时间, 然后结束还开着的流
		time.AfterFunc(streamGrace, cancel)
	})
	return &Server{srv: srv, cancel: cancel}
}

func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

func (s *Server) Serve(l net.Listener) error { return s.srv.Serve(l) }

// Shutdown stops accepting connections and waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancel()
	return s.srv.Shutdown(ctx)
}
