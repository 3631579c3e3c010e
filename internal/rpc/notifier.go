// Package rpc models the out-of-scope "RPC/AMQP reply collection" boundary
// spec.md §1 names: ATFP emits a transcode-complete/failed event over a
// local gRPC stream that a driver outside the pipeline's core scope can
// consume. Grounded in server/listener shape on the teacher's
// internal/relay/grpc_server.go (Unix-socket-first, optional TCP,
// logger-injected, interceptor-wrapped); since mediaflow ships no generated
// .proto client, TranscodeEvent is carried as a
// google.golang.org/protobuf/types/known/structpb.Struct rather than a
// codegen'd message type, and the service is registered via a
// hand-written grpc.ServiceDesc instead of a RegisterXxxServer call.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the outcome a transcode run reports, per spec.md §4.4 Deinit:
// either the run produced a committed version, or it failed and left
// nothing durable behind.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// TranscodeEvent is one notification ATFP emits when a pipeline run
// finishes, successfully or not.
type TranscodeEvent struct {
	ResourceID string
	Version    string
	Status     Status
	Reason     string // populated only when Status == StatusFailed
}

func (e TranscodeEvent) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"resource_id": e.ResourceID,
		"version":     e.Version,
		"status":      string(e.Status),
		"reason":      e.Reason,
	})
}

func eventFromStruct(s *structpb.Struct) TranscodeEvent {
	fields := s.GetFields()
	get := func(key string) string { return fields[key].GetStringValue() }
	return TranscodeEvent{
		ResourceID: get("resource_id"),
		Version:    get("version"),
		Status:     Status(get("status")),
		Reason:     get("reason"),
	}
}

// Handler processes one TranscodeEvent received over the notifier service.
type Handler func(ctx context.Context, event TranscodeEvent) error

// serviceName and methodName identify the hand-registered RPC, playing the
// role a .proto package/service/rpc declaration would otherwise play.
const (
	serviceName = "mediaflow.rpc.TranscodeNotifier"
	methodName  = "NotifyTranscodeStatus"
)

func notifyHandler(handler Handler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			event := eventFromStruct(in)
			if handler != nil {
				if err := handler(ctx, event); err != nil {
					return nil, err
				}
			}
			return &emptypb.Empty{}, nil
		}
		info := &grpc.UnaryServerInfo{FullMethod: "/" + serviceName + "/" + methodName}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			event := eventFromStruct(req.(*structpb.Struct))
			if handler != nil {
				if err := handler(ctx, event); err != nil {
					return nil, err
				}
			}
			return &emptypb.Empty{}, nil
		})
	}
}

// serviceDesc builds the grpc.ServiceDesc for the notifier service, the
// manual equivalent of a generated _grpc.pb.go's ServiceDesc variable.
func serviceDesc(handler Handler) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: methodName, Handler: notifyHandler(handler)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mediaflow/internal/rpc/notifier.go",
	}
}

// ServerConfig configures the notifier server's listener, mirroring the
// teacher's GRPCServerConfig (Unix socket primary, TCP optional).
type ServerConfig struct {
	SocketPath   string // e.g. "/run/mediaflow/notifier.sock"
	ExternalAddr string // optional "host:port" for remote consumers
}

// Server hosts the notifier service and invokes Handler for every event a
// pipeline run reports.
type Server struct {
	config ServerConfig
	logger *slog.Logger
	server *grpc.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server. handler is invoked synchronously for every
// received TranscodeEvent.
func NewServer(config ServerConfig, logger *slog.Logger, handler Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	desc := serviceDesc(handler)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&desc, nil)
	return &Server{config: config, logger: logger, server: grpcServer}
}

// Start opens the configured Unix socket (and optional TCP listener) and
// begins serving in a background goroutine.
func (s *Server) Start() error {
	if s.config.SocketPath == "" {
		return fmt.Errorf("rpc: socket path required")
	}
	if err := os.MkdirAll(filepath.Dir(s.config.SocketPath), 0o750); err != nil {
		return fmt.Errorf("rpc: creating socket directory: %w", err)
	}
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpc: removing stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("rpc: listening on %s: %w", s.config.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("notifier grpc server started", slog.String("socket", s.config.SocketPath))
	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("notifier grpc server stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

// Client publishes TranscodeEvents to a notifier Server over a gRPC
// connection, the counterpart ATFP uses from inside a pipeline run.
type Client struct {
	conn *grpc.ClientConn
}

// DialClient connects to a notifier server listening on a Unix socket. The
// connection is unauthenticated, matching the local-only trust boundary a
// Unix socket under the daemon's own run directory already provides.
func DialClient(ctx context.Context, socketPath string, opts ...grpc.DialOption) (*Client, error) {
	target := "unix://" + socketPath
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dialing %s: %w", target, err)
	}
	_ = ctx
	return &Client{conn: conn}, nil
}

// Notify sends one TranscodeEvent to the connected server.
func (c *Client) Notify(ctx context.Context, event TranscodeEvent) error {
	payload, err := event.toStruct()
	if err != nil {
		return fmt.Errorf("rpc: encoding event: %w", err)
	}
	out := new(emptypb.Empty)
	fullMethod := "/" + serviceName + "/" + methodName
	if err := c.conn.Invoke(ctx, fullMethod, payload, out); err != nil {
		return fmt.Errorf("rpc: invoking %s: %w", fullMethod, err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
