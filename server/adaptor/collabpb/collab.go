// Package collabpb declares the collab.v1.Collab gRPC service. Every message
// is a google.protobuf.Struct, so the service needs no generated code and
// carries the same JSON envelopes as the websocket transport.
package collabpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "collab.v1.Collab"

const (
	ConnectMethod          = "/" + ServiceName + "/Connect"
	ListParticipantsMethod = "/" + ServiceName + "/ListParticipants"
	ListRoomsMethod        = "/" + ServiceName + "/ListRooms"
	SearchAuditMethod      = "/" + ServiceName + "/SearchAudit"
	RegisterRoomMethod     = "/" + ServiceName + "/RegisterRoom"
	UnregisterRoomMethod   = "/" + ServiceName + "/UnregisterRoom"
)

// Metadata keys a trusted upstream sets to bind a stream to a user.
const (
	UserIDMetadata   = "x-collab-user-id"
	UserNameMetadata = "x-collab-user-name"
)

type CollabServer interface {
	Connect(Collab_ConnectServer) error
	ListParticipants(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnregisterRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Collab_ConnectServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type collabConnectServer struct {
	grpc.ServerStream
}

func (x *collabConnectServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func (x *collabConnectServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(CollabServer).Connect(&collabConnectServer{stream})
}

type unaryCall func(CollabServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CollabServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CollabServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollabServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListParticipants", Handler: unaryHandler(ListParticipantsMethod, CollabServer.ListParticipants)},
		{MethodName: "ListRooms", Handler: unaryHandler(ListRoomsMethod, CollabServer.ListRooms)},
		{MethodName: "SearchAudit", Handler: unaryHandler(SearchAuditMethod, CollabServer.SearchAudit)},
		{MethodName: "RegisterRoom", Handler: unaryHandler(RegisterRoomMethod, CollabServer.RegisterRoom)},
		{MethodName: "UnregisterRoom", Handler: unaryHandler(UnregisterRoomMethod, CollabServer.UnregisterRoom)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "collab/v1/collab.proto",
}

func RegisterCollabServer(s grpc.ServiceRegistrar, srv CollabServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type CollabClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (Collab_ConnectClient, error)
	ListParticipants(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SearchAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RegisterRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UnregisterRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type Collab_ConnectClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type collabClient struct {
	cc grpc.ClientConnInterface
}

func NewCollabClient(cc grpc.ClientConnInterface) CollabClient {
	return &collabClient{cc}
}

func (c *collabClient) Connect(ctx context.Context, opts ...grpc.CallOption) (Collab_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &collabConnectClient{stream}, nil
}

type collabConnectClient struct {
	grpc.ClientStream
}

func (x *collabConnectClient) Send(m *structpb.Struct) error {
	return x.ClientStream.SendMsg(m)
}

func (x *collabConnectClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *collabClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collabClient) ListParticipants(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListParticipantsMethod, in, opts...)
}

func (c *collabClient) ListRooms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListRoomsMethod, in, opts...)
}

func (c *collabClient) SearchAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SearchAuditMethod, in, opts...)
}

func (c *collabClient) RegisterRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, RegisterRoomMethod, in, opts...)
}

func (c *collabClient) UnregisterRoom(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, UnregisterRoomMethod, in, opts...)
}

// EncodeFrame turns a JSON object into a Struct message.
func EncodeFrame(frame []byte) (*structpb.Struct, error) {
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(frame, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeFrame renders a Struct message back to JSON.
func DecodeFrame(s *structpb.Struct) ([]byte, error) {
	return protojson.Marshal(s)
}
