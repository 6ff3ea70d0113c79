package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name clients dial.
const ServiceName = "memberauth.v1.Auth"

const (
	MethodLogin   = "/" + ServiceName + "/Login"
	MethodReissue = "/" + ServiceName + "/Reissue"
	MethodLogout  = "/" + ServiceName + "/Logout"
	MethodMe      = "/" + ServiceName + "/Me"
)

// AuthServer is the server side of memberauth.v1.Auth. Messages are
// google.protobuf.Struct so the service needs no generated code.
type AuthServer interface {
	Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reissue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Me(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv AuthServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Login",
			Handler:    unaryHandler(MethodLogin, AuthServer.Login),
		},
		{
			MethodName: "Reissue",
			Handler:    unaryHandler(MethodReissue, AuthServer.Reissue),
		},
		{
			MethodName: "Logout",
			Handler:    unaryHandler(MethodLogout, AuthServer.Logout),
		},
		{
			MethodName: "Me",
			Handler:    unaryHandler(MethodMe, AuthServer.Me),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "memberauth/v1/auth.proto",
}
