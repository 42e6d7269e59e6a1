// Package grpc hosts the gRPC listener of the server: the session service,
// the standard health service and the access-token interceptor guarding
// every non-public method.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TokenParser validates access tokens. *auth.Codec implements it.
type TokenParser interface {
	ParseAccessToken(token string) (*models.UserClaims, error)
}

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

type GRPCServer struct {
	address       string
	logger        logging.Logger
	tokens        TokenParser
	sessions      SessionService
	public        map[string]bool
	health        *health.Server
	probes        []Probe
	probeInterval time.Duration
	clock         clock.Clock
}

func NewGRPCServer(a string, l logging.Logger, tokens TokenParser, sessions SessionService,
	probeInterval time.Duration, clk clock.Clock, probes ...Probe) *GRPCServer {
	if clk == nil {
		clk = clock.New()
	}
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		tokens:   tokens,
		sessions: sessions,
		public: map[string]bool{
			healthpb.Health_Check_FullMethodName: true,
			healthpb.Health_List_FullMethodName:  true,
			LoginMethod:                          true,
			RegisterMethod:                       true,
			RefreshMethod:                        true,
			RevokeMethod:                         true,
		},
		health:        health.NewServer(),
		probes:        probes,
		probeInterval: probeInterval,
		clock:         clk,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&sessionsServiceDesc, s)

	s.checkHealth(ctx)
	go s.watchHealth(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

func (s *GRPCServer) watchHealth(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.probeInterval):
			s.checkHealth(ctx)
		}
	}
}

// checkHealth sets the overall status to SERVING only if every probe passes.
func (s *GRPCServer) checkHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for _, probe := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(pctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "health probe failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	s.health.SetServingStatus("", status)
}
