package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GoSim-25-26J-441/burst-adaptation/internal/burst"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

// BurstServiceName is the fully qualified gRPC service name
const BurstServiceName = "burstadapt.v1.BurstService"

// BurstServiceServer is the server API of burstadapt.v1.BurstService.
// Structured messages travel as google.protobuf.Struct with the same field
// names as the HTTP API.
type BurstServiceServer interface {
	EstimateRate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	StartRun(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	StopRun(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRuns(context.Context, *wrapperspb.Int32Value) (*structpb.Struct, error)
	WatchRun(*wrapperspb.StringValue, grpc.ServerStream) error
}

func unaryHandler[Req proto.Message](method string, newReq func() Req, call func(BurstServiceServer, context.Context, Req) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BurstServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BurstServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BurstServiceServer), ctx, req.(Req))
		})
	}
}

func watchRunHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BurstServiceServer).WatchRun(in, stream)
}

func newStruct() *structpb.Struct        { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newInt32() *wrapperspb.Int32Value   { return new(wrapperspb.Int32Value) }

// BurstServiceDesc describes burstadapt.v1.BurstService for grpc.Server
var BurstServiceDesc = grpc.ServiceDesc{
	ServiceName: BurstServiceName,
	HandlerType: (*BurstServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EstimateRate", Handler: unaryHandler("EstimateRate", newStruct, BurstServiceServer.EstimateRate)},
		{MethodName: "CreateRun", Handler: unaryHandler("CreateRun", newStruct, BurstServiceServer.CreateRun)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", newString, BurstServiceServer.GetRun)},
		{MethodName: "StartRun", Handler: unaryHandler("StartRun", newString, BurstServiceServer.StartRun)},
		{MethodName: "StopRun", Handler: unaryHandler("StopRun", newString, BurstServiceServer.StopRun)},
		{MethodName: "ListRuns", Handler: unaryHandler("ListRuns", newInt32, BurstServiceServer.ListRuns)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchRun", Handler: watchRunHandler, ServerStreams: true},
	},
	Metadata: "burstadapt/v1/burst.proto",
}

// RegisterBurstServiceServer registers srv on s
func RegisterBurstServiceServer(s grpc.ServiceRegistrar, srv BurstServiceServer) {
	s.RegisterService(&BurstServiceDesc, srv)
}

// BurstGRPCServer implements BurstServiceServer on top of a RunStore
type BurstGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
	// WatchInterval is the polling period of WatchRun
	WatchInterval time.Duration
}

func NewBurstGRPCServer(store *RunStore, executor *RunExecutor) *BurstGRPCServer {
	return &BurstGRPCServer{
		store:         store,
		Executor:      executor,
		WatchInterval: 500 * time.Millisecond,
	}
}

// toStruct converts a JSON-tagged value into a Struct
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into a JSON-tagged value
func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func executorStatus(err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrRunIDMissing):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrRunTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func runResponse(rec *RunRecord) (*structpb.Struct, error) {
	resp := map[string]any{"run": rec.Run}
	if rec.Result != nil {
		resp["result"] = rec.Result
	}
	return toStruct(resp)
}

func (s *BurstGRPCServer) EstimateRate(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	var in burstRateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	est := in.estimator()
	analysis, err := est.Analyze(&models.SpikeTrain{
		TimesMs:        in.TimesMs,
		Senders:        in.Senders,
		PopulationSize: in.PopulationSize,
		DurationMs:     in.DurationMs,
	})
	if err != nil {
		if errors.Is(err, burst.ErrInvalidInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(map[string]any{
		"rate_hz":             analysis.RateHz,
		"bursts":              analysis.Bursts(),
		"unique_senders":      analysis.UniqueSenders,
		"single_cell_rate_hz": analysis.SingleCellRateHz,
	})
}

func (s *BurstGRPCServer) CreateRun(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "input is required")
	}
	var in struct {
		RunID string `json:"run_id"`
		Start bool   `json:"start"`
		RunInput
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if err := ValidateInput(in.RunInput); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.store.Create(in.RunID, in.RunInput)
	if err != nil {
		if errors.Is(err, ErrInvalidRunID) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.AlreadyExists, err.Error())
	}
	logger.Info("run created", "run_id", rec.Run.ID)

	if in.Start {
		if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
			return nil, executorStatus(err)
		}
	}
	return runResponse(rec)
}

func (s *BurstGRPCServer) GetRun(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(req.GetValue())
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return runResponse(rec)
}

func (s *BurstGRPCServer) StartRun(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	rec, err := s.Executor.Start(req.GetValue())
	if err != nil {
		return nil, executorStatus(err)
	}
	logger.Info("run started (executor)", "run_id", req.GetValue())
	return runResponse(rec)
}

func (s *BurstGRPCServer) StopRun(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	rec, err := s.Executor.Stop(req.GetValue())
	if err != nil {
		return nil, executorStatus(err)
	}
	logger.Info("run cancelled", "run_id", req.GetValue())
	return runResponse(rec)
}

func (s *BurstGRPCServer) ListRuns(_ context.Context, req *wrapperspb.Int32Value) (*structpb.Struct, error) {
	limit := 50
	if req.GetValue() > 0 {
		limit = int(req.GetValue())
	}
	recs := s.store.List(limit)
	runs := make([]models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return toStruct(map[string]any{"runs": runs})
}

// WatchRun streams run events: status changes, each new step and a final
// complete event once the run is terminal
func (s *BurstGRPCServer) WatchRun(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	runID := req.GetValue()
	if runID == "" {
		return status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return status.Error(codes.NotFound, "run not found")
	}

	send := func(event string, data any) error {
		msg, err := toStruct(map[string]any{
			"event":      event,
			"run_id":     runID,
			"at_unix_ms": time.Now().UTC().UnixMilli(),
			"data":       data,
		})
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	}

	var previous models.RunStatus
	sent := 0
	interval := s.WatchInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if rec.Run.Status != previous {
			if err := send("status_change", map[string]any{"previous": previous, "current": rec.Run.Status}); err != nil {
				return err
			}
			previous = rec.Run.Status
		}
		for ; sent < len(rec.Steps); sent++ {
			if err := send("step", rec.Steps[sent]); err != nil {
				return err
			}
		}
		if rec.Run.Status.IsTerminal() {
			return send("complete", map[string]any{"status": rec.Run.Status, "result": rec.Result})
		}

		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
		}
		if rec, ok = s.store.Get(runID); !ok {
			return status.Error(codes.NotFound, "run not found")
		}
	}
}

// BurstServiceClient calls burstadapt.v1.BurstService
type BurstServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBurstServiceClient(cc grpc.ClientConnInterface) *BurstServiceClient {
	return &BurstServiceClient{cc: cc}
}

func (c *BurstServiceClient) invoke(ctx context.Context, method string, in proto.Message, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BurstServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BurstServiceClient) EstimateRate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "EstimateRate", in, opts...)
}

func (c *BurstServiceClient) CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateRun", in, opts...)
}

func (c *BurstServiceClient) GetRun(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRun", wrapperspb.String(runID), opts...)
}

func (c *BurstServiceClient) StartRun(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartRun", wrapperspb.String(runID), opts...)
}

func (c *BurstServiceClient) StopRun(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopRun", wrapperspb.String(runID), opts...)
}

func (c *BurstServiceClient) ListRuns(ctx context.Context, limit int32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRuns", wrapperspb.Int32(limit), opts...)
}

// WatchRun opens the event stream of a run. recv returns io.EOF after the
// complete event.
func (c *BurstServiceClient) WatchRun(ctx context.Context, runID string, opts ...grpc.CallOption) (recv func() (*structpb.Struct, error), err error) {
	stream, err := c.cc.NewStream(ctx, &BurstServiceDesc.Streams[0], "/"+BurstServiceName+"/WatchRun", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(runID)); err != nil {
		return nil, fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close watch request: %w", err)
	}
	return func() (*structpb.Struct, error) {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			return nil, err
		}
		return msg, nil
	}, nil
}
