package grpcapi

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

func startTestServer(t *testing.T) (string, *service.Service, func()) {
	t.Helper()
	base := scope.New()
	base.Set("env", "threshold", types.NewInt(100))
	rules := store.NewCompiled(store.NewMemory())
	svc := service.New(rules, service.WithBaseScope(base))
	srv := New(svc, nil)

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.grpc.Serve(lis)

	return lis.Addr().String(), svc, func() {
		srv.grpc.Stop()
		rules.Close()
	}
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestEvaluate(t *testing.T) {
	addr, _, cleanup := startTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()

	client := NewEvaluatorClient(conn)
	ctx := context.Background()

	resp, err := client.Evaluate(ctx, mustStruct(t, map[string]any{
		"expression": "order.total -gt env.threshold && order.items * 2 -eq 6",
		"contexts": map[string]any{
			"order": map[string]any{"total": 150, "items": 3},
		},
	}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !resp.GetFields()["result"].GetBoolValue() {
		t.Fatalf("unexpected result: %v", resp)
	}
	if got := resp.GetFields()["type"].GetStringValue(); got != "bool" {
		t.Fatalf("unexpected type: %s", got)
	}
}

func TestEvaluateKeepsIntegers(t *testing.T) {
	addr, _, cleanup := startTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()

	resp, err := NewEvaluatorClient(conn).Evaluate(context.Background(), mustStruct(t, map[string]any{
		"expression": "c.n + 1",
		"contexts":   map[string]any{"c": map[string]any{"n": 41}},
	}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := resp.GetFields()["type"].GetStringValue(); got != "int" {
		t.Fatalf("expected int result, got %s", got)
	}
	if got := resp.GetFields()["result"].GetNumberValue(); got != 42 {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestEvaluateRule(t *testing.T) {
	addr, svc, cleanup := startTestServer(t)
	defer cleanup()

	if _, err := svc.Rules().Create(store.Rule{ID: "double", Expression: "x.v * 2"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	conn := dial(t, addr)
	defer conn.Close()
	client := NewEvaluatorClient(conn)

	resp, err := client.Evaluate(context.Background(), mustStruct(t, map[string]any{
		"rule":     "double",
		"contexts": map[string]any{"x": map[string]any{"v": 2.5}},
	}))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := resp.GetFields()["result"].GetNumberValue(); got != 5 {
		t.Fatalf("unexpected result: %v", got)
	}
	if got := resp.GetFields()["rule"].GetStringValue(); got != "double" {
		t.Fatalf("unexpected rule: %s", got)
	}

	_, err = client.Evaluate(context.Background(), mustStruct(t, map[string]any{"rule": "missing"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEvaluateErrors(t *testing.T) {
	addr, _, cleanup := startTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()
	client := NewEvaluatorClient(conn)

	tests := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{"empty request", map[string]any{}, codes.InvalidArgument},
		{"parse error", map[string]any{"expression": "1 +"}, codes.InvalidArgument},
		{"bad contexts", map[string]any{"expression": "1", "contexts": map[string]any{"c": "x"}}, codes.InvalidArgument},
		{"division by zero", map[string]any{"expression": "1 / 0"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Evaluate(context.Background(), mustStruct(t, tt.req))
			if status.Code(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestToRPN(t *testing.T) {
	addr, _, cleanup := startTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()
	client := NewEvaluatorClient(conn)

	resp, err := client.ToRPN(context.Background(), mustStruct(t, map[string]any{
		"expression": "pow(2, 3) + -x",
	}))
	if err != nil {
		t.Fatalf("ToRPN: %v", err)
	}
	if got := resp.GetFields()["rpn"].GetStringValue(); got != "2 3 , pow x _neg +" {
		t.Fatalf("unexpected rpn: %q", got)
	}
	if n := len(resp.GetFields()["tokens"].GetListValue().GetValues()); n != 7 {
		t.Fatalf("expected 7 tokens, got %d", n)
	}

	_, err = client.ToRPN(context.Background(), mustStruct(t, map[string]any{"expression": "(1"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
