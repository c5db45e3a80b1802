package rpc

import (
	"net"

	"google.golang.org/grpc"
)

// Listen binds addr and starts serving impl in a new goroutine,
// returning the grpc.Server (for Stop) and its bound address (useful
// when addr is ":0").
func Listen(addr string, impl SchedulerServer) (*grpc.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := grpc.NewServer()
	RegisterSchedulerServer(srv, impl)
	go func() { _ = srv.Serve(ln) }()
	return srv, ln.Addr(), nil
}
