// Package grpcserver implements the lottery.v1.LotteryService gRPC server.
//
// It delegates all business logic to lottery.Service and handles only the
// gRPC transport concerns: metadata extraction, error mapping, and
// conversion between domain values and protobuf Struct messages.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jswmusik/jobbeli/internal/lottery"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lottery.v1.LotteryService"

// Server implements LotteryService on top of lottery.Service.
type Server struct {
	svc *lottery.Service
}

// NewServer constructs a gRPC Server backed by the given lottery.Service.
func NewServer(svc *lottery.Service) *Server {
	return &Server{svc: svc}
}

// Register attaches s to gs.
func Register(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// RunLottery runs the lottery for {group_id, seed?}. The caller is taken
// from x-user-id metadata.
func (s *Server) RunLottery(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	groupID := stringField(req, "group_id")

	var seed *int64
	if v, ok := req.GetFields()["seed"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
			return nil, status.Error(codes.InvalidArgument, "seed must be an integer")
		}
		v := int64(n.NumberValue)
		seed = &v
	}

	run, err := s.svc.RunLottery(ctx, lottery.RunRequest{GroupID: groupID, ExecutedBy: userID, Seed: seed})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(lottery.NewRunResult(run))
}

// GetRun returns the run named by {run_id}.
func (s *Server) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	run, err := s.svc.GetRun(ctx, stringField(req, "run_id"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(run)
}

// ListRuns returns {runs: [...]} for an optional {group_id}.
func (s *Server) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runs, err := s.svc.ListRuns(ctx, stringField(req, "group_id"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"runs": runs})
}

// Preview returns the preview of {group_id}.
func (s *Server) Preview(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.svc.Preview(ctx, stringField(req, "group_id"))
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(p)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// userIDFromCtx extracts the x-user-id value forwarded by the Gateway
// via gRPC metadata.
func userIDFromCtx(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("x-user-id")
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing x-user-id metadata")
	}
	return vals[0], nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	// A started run that failed wraps its cause; report the run, not the cause.
	var rf *lottery.RunFailedError
	if errors.As(err, &rf) {
		return status.Error(codes.Aborted, rf.Error())
	}
	if errors.Is(err, lottery.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, lottery.ErrRunInProgress) {
		return status.Error(codes.AlreadyExists, err.Error())
	}
	var ve *lottery.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	return status.Error(codes.Internal, "internal server error")
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// toStruct converts any JSON-serialisable value to a Struct through its JSON
// form, so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// ─── Service descriptor ──────────────────────────────────────────────────────

type unaryMethod func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return m(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("RunLottery", (*Server).RunLottery),
		unary("GetRun", (*Server).GetRun),
		unary("ListRuns", (*Server).ListRuns),
		unary("Preview", (*Server).Preview),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lottery/v1/lottery.proto",
}
