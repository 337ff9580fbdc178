package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/store/memory"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func TestGRPCHealthServing(t *testing.T) {
	srv := NewGRPCServer(ReadyProbe{Store: memory.New()}, nil)
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	for _, name := range []string{"", serviceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
		if err != nil {
			t.Fatalf("Check(%q) error: %v", name, err)
		}
		want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
		if !proto.Equal(resp, want) {
			t.Fatalf("Check(%q): unexpected response %v", name, resp)
		}
	}
}

type failingReadiness struct{}

func (f failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestGRPCHealthNotServing(t *testing.T) {
	srv := NewGRPCServer(failingReadiness{}, nil)
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCHealthUnknownService(t *testing.T) {
	srv := NewGRPCServer(ReadyProbe{}, nil)
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "other.Service"})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.NotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnaryAuthnResolvesPrincipal(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "grpc@example.com", "password-1")
	pair := env.login(t, "grpc@example.com", "password-1")

	interceptor := UnaryAuthn(env.api.authorizer, slog.Default())
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	capture := func(ctx context.Context, _ any) (any, error) {
		return auth.PrincipalFromContext(ctx), nil
	}

	cases := []struct {
		name   string
		md     metadata.MD
		signed bool
	}{
		{name: "no metadata"},
		{name: "bearer", md: metadata.Pairs("authorization", "Bearer "+pair.AccessToken), signed: true},
		{name: "garbage", md: metadata.Pairs("authorization", "Bearer nope")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			out, err := interceptor(ctx, nil, info, capture)
			if err != nil {
				t.Fatalf("interceptor: %v", err)
			}
			if got := out.(auth.Principal).Authenticated(); got != tc.signed {
				t.Fatalf("authenticated = %v, want %v", got, tc.signed)
			}
		})
	}
}
