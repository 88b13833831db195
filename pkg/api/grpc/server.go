// Package grpcapi exposes expression evaluation over gRPC. Messages are
// google.protobuf.Struct values, so any gRPC client can call the service
// without generated stubs.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "exprtree.v1.Evaluator"

// EvaluatorServer is the server API for the Evaluator service.
type EvaluatorServer interface {
	// Evaluate takes {expression | rule, contexts} and returns
	// {result, type}.
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ToRPN takes {expression} and returns {rpn, tokens}.
	ToRPN(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Evaluator service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "ToRPN", Handler: toRPNHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "exprtree/v1/evaluator.proto",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Evaluate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func toRPNHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).ToRPN(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ToRPN"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).ToRPN(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// EvaluatorClient calls the Evaluator service.
type EvaluatorClient struct {
	cc grpc.ClientConnInterface
}

// NewEvaluatorClient creates a client over cc.
func NewEvaluatorClient(cc grpc.ClientConnInterface) *EvaluatorClient {
	return &EvaluatorClient{cc: cc}
}

// Evaluate calls Evaluator.Evaluate.
func (c *EvaluatorClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Evaluate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ToRPN calls Evaluator.ToRPN.
func (c *EvaluatorClient) ToRPN(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ToRPN", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Server implements the Evaluator gRPC service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
	grpc   *grpc.Server
}

// New creates a new gRPC server over svc. A nil logger discards output.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := &Server{svc: svc, logger: logger}

	gs := grpc.NewServer(grpc.UnaryInterceptor(srv.logUnary))
	gs.RegisterService(&ServiceDesc, srv)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener serves gRPC on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

// Evaluate evaluates an ad-hoc expression or a stored rule.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	source := fields["expression"].GetStringValue()
	ruleID := fields["rule"].GetStringValue()
	if source == "" && ruleID == "" {
		return nil, status.Error(codes.InvalidArgument, "expression or rule is required")
	}

	sc, err := s.requestScope(fields["contexts"].GetStructValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var v types.Value
	var extra map[string]any
	if ruleID != "" {
		var r *store.Rule
		r, v, err = s.svc.EvaluateRule(ctx, ruleID, sc)
		if err == nil {
			extra = map[string]any{"rule": r.ID, "revision": r.Revision}
		}
	} else {
		v, err = s.svc.Evaluate(ctx, source, sc)
	}
	if err != nil {
		return nil, statusError(err)
	}

	out := map[string]any{
		"result": v.ToGo(),
		"type":   v.Type().String(),
	}
	for k, val := range extra {
		out[k] = val
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return resp, nil
}

// ToRPN returns the RPN form of an expression.
func (s *Server) ToRPN(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	source := req.GetFields()["expression"].GetStringValue()
	e, err := s.svc.Compile(ctx, source)
	if err != nil {
		return nil, statusError(err)
	}

	rpn := e.RPN()
	tokens := make([]any, len(rpn))
	for i, tok := range rpn {
		tokens[i] = map[string]any{
			"type": tok.Type.String(),
			"text": tok.Text,
			"pos":  tok.Pos,
		}
	}
	resp, err := structpb.NewStruct(map[string]any{
		"rpn":    expr.FormatRPN(rpn),
		"tokens": tokens,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return resp, nil
}

func (s *Server) requestScope(contexts *structpb.Struct) (*scope.Store, error) {
	sc := s.svc.Scope()
	if contexts == nil {
		return sc, nil
	}
	doc := make(map[string]any, len(contexts.GetFields()))
	for k, v := range contexts.AsMap() {
		doc[k] = normalizeNumbers(v)
	}
	if err := sc.LoadMap(doc); err != nil {
		return nil, fmt.Errorf("invalid contexts: %w", err)
	}
	return sc, nil
}

// normalizeNumbers turns integral numbers back into ints. Struct carries
// every number as a double, so 3 and 3.0 are indistinguishable on the wire.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}

// statusError maps domain errors to gRPC status codes.
func statusError(err error) error {
	var (
		pe      expr.ParseError
		invalid *store.InvalidExpressionError
		evalErr *types.EvalError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &invalid), errors.As(err, &pe):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &evalErr):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
