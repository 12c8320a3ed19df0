package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	gatev1 "github.com/ppiankov/toolgate/api/gatev1"
	"github.com/ppiankov/toolgate/internal/extract"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/metrics"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr        string
	MetricsAddr string
	PolicyPath  string
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Server implements GateService on top of a Gate.
type Server struct {
	cfg    Config
	gate   *gate.Gate
	logger *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
}

var _ gatev1.GateServiceServer = (*Server)(nil)

// New loads the policy and builds the server. Alerts are enabled: the
// server is the long-lived process that owns webhook delivery.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	g, err := gate.New(gate.Config{
		PolicyPath: cfg.PolicyPath,
		Alerts:     true,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		gate:   g,
		logger: cfg.Logger.With("component", "server"),
		health: health.NewServer(),
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	gatev1.RegisterGateServiceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(gatev1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", cfg.Metrics.Handler())
		s.httpServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// Gate returns the gate the server decides through.
func (s *Server) Gate() *gate.Gate {
	return s.gate
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves gRPC on lis, and /metrics when a metrics address is set.
func (s *Server) ServeOn(lis net.Listener) error {
	if s.httpServer != nil {
		go func() {
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics endpoint failed", "addr", s.cfg.MetricsAddr, "error", err)
			}
		}()
	}
	s.logger.Info("serving",
		"addr", lis.Addr().String(),
		"metrics_addr", s.cfg.MetricsAddr,
		"policy_hash", s.gate.RuleSet().Hash(),
	)
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the metrics endpoint.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// Close releases the audit sink and waits for pending alerts.
func (s *Server) Close() error {
	return s.gate.Close()
}

// ReloadPolicy recompiles the policy file and swaps it in. The hot
// reloader calls it on file change; a failure keeps the active rules.
func (s *Server) ReloadPolicy() error {
	if err := s.gate.Reload(); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	return nil
}

// Evaluate implements the Evaluate RPC.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gatev1.EvalRequest
	if err := gatev1.FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if req.ToolName == "" {
		return nil, status.Error(codes.InvalidArgument, "tool_name is required")
	}

	inv := model.Invocation{
		ToolName:  req.ToolName,
		Fields:    extract.FromMap(req.ToolName, req.ToolInput),
		SessionID: req.SessionID,
		Cwd:       req.Cwd,
	}

	// The hash must name the rules that decided, not whatever a reload
	// installed since.
	var (
		d  model.Decision
		rs *policy.RuleSet
	)
	if req.DryRun {
		d, rs = s.gate.CheckWithRules(inv)
	} else {
		d, rs = s.gate.DecideWithRules(inv)
	}

	resp := gatev1.EvalResponse{
		Decision:   string(d.Outcome),
		Reason:     d.Reason,
		PolicyHash: rs.Hash(),
	}
	if d.Rule != nil {
		resp.RuleID = d.Rule.ID
		resp.RuleEffect = string(d.Rule.Effect)
		resp.RuleIndex = d.Rule.Index
		resp.RuleDescription = d.Rule.Description
	}
	return gatev1.ToStruct(resp)
}

// ListRules implements the ListRules RPC.
func (s *Server) ListRules(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rs := s.gate.RuleSet()
	return gatev1.ToStruct(gatev1.ListRulesResponse{
		PolicyHash: rs.Hash(),
		Source:     rs.Source(),
		AuditLevel: string(rs.Audit().Level),
		Rules:      RuleInfos(rs.Views()),
	})
}

// RuleInfos converts compiled rule views to their wire form.
func RuleInfos(views []policy.RuleView) []gatev1.RuleInfo {
	out := make([]gatev1.RuleInfo, 0, len(views))
	for _, v := range views {
		info := gatev1.RuleInfo{
			ID:          v.ID,
			Effect:      v.Effect,
			Index:       v.Index,
			Tool:        v.Tool,
			Description: v.Description,
		}
		for _, f := range v.Fields {
			info.Fields = append(info.Fields, gatev1.FieldInfo{
				Name:    f.Name,
				Include: f.Include,
				Exclude: f.Exclude,
				Literal: f.Literal,
			})
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		"request_id", uuid.NewString(),
		"method", info.FullMethod,
		"duration", time.Since(start),
		"code", status.Code(err).String(),
	)
	return resp, err
}
