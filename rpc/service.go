package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// SchedulerServer is implemented by the scheduler role (§4.6) and
// registered against a *grpc.Server via RegisterSchedulerServer.
type SchedulerServer interface {
	NumStfSendersInPartition(context.Context, *NumSendersRequest) (*NumSendersResponse, error)
	TfBuilderConnectionRequest(context.Context, *BuilderConnectRequest) (*BuilderConnectResponse, error)
	TfBuilderDisconnectionRequest(context.Context, *BuilderDisconnectRequest) (*BuilderDisconnectResponse, error)
	TfBuilderUpdate(context.Context, *BuilderUpdateRequest) (*BuilderUpdateResponse, error)
	StfSenderStfUpdate(context.Context, *StfUpdateRequest) (*StfUpdateResponse, error)
	StfSenderStfSendFailed(context.Context, *StfSendFailedRequest) (*StfSendFailedResponse, error)
}

// serviceName is the fully-qualified gRPC service name carried on the
// wire, in place of a protoc-generated one.
const serviceName = "datadistribution.TfScheduler"

func handleNumStfSendersInPartition(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(NumSendersRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).NumStfSendersInPartition(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/NumStfSendersInPartition"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).NumStfSendersInPartition(ctx, req.(*NumSendersRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleTfBuilderConnectionRequest(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BuilderConnectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).TfBuilderConnectionRequest(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TfBuilderConnectionRequest"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).TfBuilderConnectionRequest(ctx, req.(*BuilderConnectRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleTfBuilderDisconnectionRequest(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BuilderDisconnectRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).TfBuilderDisconnectionRequest(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TfBuilderDisconnectionRequest"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).TfBuilderDisconnectionRequest(ctx, req.(*BuilderDisconnectRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleTfBuilderUpdate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(BuilderUpdateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).TfBuilderUpdate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TfBuilderUpdate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).TfBuilderUpdate(ctx, req.(*BuilderUpdateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleStfSenderStfUpdate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StfUpdateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).StfSenderStfUpdate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/StfSenderStfUpdate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).StfSenderStfUpdate(ctx, req.(*StfUpdateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleStfSenderStfSendFailed(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StfSendFailedRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SchedulerServer).StfSenderStfSendFailed(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/StfSenderStfSendFailed"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SchedulerServer).StfSenderStfSendFailed(ctx, req.(*StfSendFailedRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// schedulerServiceDesc is the hand-authored equivalent of a protoc-
// generated _grpc.pb.go ServiceDesc: it binds the RPCs named in §6,
// plus the supplemented StfSenderStfSendFailed, to their handlers.
var schedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "NumStfSendersInPartition", Handler: handleNumStfSendersInPartition},
		{MethodName: "TfBuilderConnectionRequest", Handler: handleTfBuilderConnectionRequest},
		{MethodName: "TfBuilderDisconnectionRequest", Handler: handleTfBuilderDisconnectionRequest},
		{MethodName: "TfBuilderUpdate", Handler: handleTfBuilderUpdate},
		{MethodName: "StfSenderStfUpdate", Handler: handleStfSenderStfUpdate},
		{MethodName: "StfSenderStfSendFailed", Handler: handleStfSenderStfSendFailed},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datadistribution.proto",
}

// RegisterSchedulerServer binds impl to srv under the six scheduler
// RPCs.
func RegisterSchedulerServer(srv *grpc.Server, impl SchedulerServer) {
	srv.RegisterService(&schedulerServiceDesc, impl)
}

// SchedulerClient is a typed client stub over a *grpc.ClientConn,
// standing in for the protoc-generated client in a no-codegen setup.
type SchedulerClient struct {
	cc *grpc.ClientConn
}

// NewSchedulerClient wraps an already-dialed connection.
func NewSchedulerClient(cc *grpc.ClientConn) *SchedulerClient { return &SchedulerClient{cc: cc} }

func (c *SchedulerClient) NumStfSendersInPartition(ctx context.Context, req *NumSendersRequest) (*NumSendersResponse, error) {
	resp := new(NumSendersResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/NumStfSendersInPartition", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) TfBuilderConnectionRequest(ctx context.Context, req *BuilderConnectRequest) (*BuilderConnectResponse, error) {
	resp := new(BuilderConnectResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/TfBuilderConnectionRequest", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) TfBuilderDisconnectionRequest(ctx context.Context, req *BuilderDisconnectRequest) (*BuilderDisconnectResponse, error) {
	resp := new(BuilderDisconnectResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/TfBuilderDisconnectionRequest", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) TfBuilderUpdate(ctx context.Context, req *BuilderUpdateRequest) (*BuilderUpdateResponse, error) {
	resp := new(BuilderUpdateResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/TfBuilderUpdate", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) StfSenderStfUpdate(ctx context.Context, req *StfUpdateRequest) (*StfUpdateResponse, error) {
	resp := new(StfUpdateResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/StfSenderStfUpdate", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SchedulerClient) StfSenderStfSendFailed(ctx context.Context, req *StfSendFailedRequest) (*StfSendFailedResponse, error) {
	resp := new(StfSendFailedResponse)
	if err := c.cc.Invoke(ctx, serviceName+"/StfSenderStfSendFailed", req, resp, grpc.CallContentSubtype(codecSubtype)); err != nil {
		return nil, err
	}
	return resp, nil
}

// Dial connects to the scheduler's gRPC endpoint with insecure
// transport credentials, matching the original's grpc::InsecureServerCredentials
// (there is no encryption requirement per §1 Non-goals).
func Dial(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
}
