// Package server exposes the coordinator service over gRPC and HTTP.
//
// The gRPC service tripplanner.v1.Planner is described by hand: its messages
// are google.protobuf.Struct values holding the JSON form of types.Request
// and types.AggregateSnapshot, so no generated code is involved.
//
//	rpc Plan(Struct request) returns (stream Struct snapshot);
//	rpc Cancel(Struct {request_id}) returns (Struct {request_id, cancelled});
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tripplanner.v1.Planner"

// HeaderRequestID carries the accepted request ID in the Plan response header.
const HeaderRequestID = "x-request-id"

const (
	methodPlan   = "/" + ServiceName + "/Plan"
	methodCancel = "/" + ServiceName + "/Cancel"
)

// PlannerServer is the server API of tripplanner.v1.Planner.
type PlannerServer interface {
	Plan(req *structpb.Struct, stream PlanServerStream) error
	Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// PlanServerStream sends snapshots to the client.
type PlanServerStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type planServerStream struct {
	grpc.ServerStream
}

func (s *planServerStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// PlannerServiceDesc describes tripplanner.v1.Planner for grpc.Server.
var PlannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Cancel", Handler: cancelHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Plan", Handler: planHandler, ServerStreams: true},
	},
	Metadata: "tripplanner/v1/planner.proto",
}

func planHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PlannerServer).Plan(in, &planServerStream{stream})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlannerServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCancel}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlannerServer).Cancel(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ============================================================================
// Planner implementation
// ============================================================================

// Planner implements PlannerServer on top of a coordinator.Service.
type Planner struct {
	svc *coordinator.Service
}

var _ PlannerServer = (*Planner)(nil)

// NewPlanner creates the gRPC planner.
func NewPlanner(svc *coordinator.Service) *Planner {
	return &Planner{svc: svc}
}

// Plan accepts a request and streams every snapshot until the Final one.
// A client that goes away before Final cancels the request.
func (p *Planner) Plan(in *structpb.Struct, stream PlanServerStream) error {
	var req types.Request
	if err := FromStruct(in, &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	ctx := stream.Context()
	ticket, err := p.svc.Handle(ctx, req)
	if err != nil {
		return statusOf(err)
	}
	if err := stream.SendHeader(metadata.Pairs(HeaderRequestID, string(ticket.RequestID))); err != nil {
		p.abandon(ticket.RequestID)
		return err
	}

	var after uint64
	for {
		snap, err := ticket.Channel.Next(ctx, after)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			p.abandon(ticket.RequestID)
			return status.FromContextError(err).Err()
		}

		msg, err := ToStruct(snap)
		if err != nil {
			p.abandon(ticket.RequestID)
			return status.Errorf(codes.Internal, "encode snapshot: %v", err)
		}
		if err := stream.Send(msg); err != nil {
			p.abandon(ticket.RequestID)
			return err
		}
		if snap.IsFinal() {
			return nil
		}
		after = snap.Seq
	}
}

func (p *Planner) abandon(id types.RequestID) {
	if err := p.svc.Cancel(id); err == nil {
		slog.Info("Stream closed before final snapshot, request cancelled", "request", id)
	}
}

// Cancel cancels the request named by the request_id field.
func (p *Planner) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["request_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	if err := p.svc.Cancel(types.RequestID(id)); err != nil {
		return nil, statusOf(err)
	}
	return structpb.NewStruct(map[string]any{"request_id": id, "cancelled": true})
}

// statusOf maps service errors to gRPC status codes.
func statusOf(err error) error {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, coordinator.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, coordinator.ErrUnknownRequest):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, coordinator.ErrFinished):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ============================================================================
// Server assembly
// ============================================================================

// NewGRPCServer returns a grpc.Server with the planner and the standard
// health service registered.
func NewGRPCServer(svc *coordinator.Service, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unaryLogger),
		grpc.ChainStreamInterceptor(streamLogger),
	)
	s := grpc.NewServer(opts...)
	s.RegisterService(&PlannerServiceDesc, NewPlanner(svc))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Debug("gRPC call", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(start))
	return resp, err
}

func streamLogger(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	slog.Debug("gRPC stream", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(start))
	return err
}

// ============================================================================
// Struct codec
// ============================================================================

// ToStruct converts v to a Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	return json.Unmarshal(raw, v)
}
