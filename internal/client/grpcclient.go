package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCClient is safe for concurrent use. Concurrent calls that all hit an
// expired access token trigger a single refresh.
type GRPCClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func isPublic(method string) bool {
	switch method {
	case gs.LoginMethod, gs.RegisterMethod, gs.RefreshMethod, gs.RevokeMethod:
		return true
	}
	return false
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if isPublic(method) || method == healthpb.Health_Check_FullMethodName {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	s.mu.Lock()
	used := s.accessToken
	s.mu.Unlock()

	err := invoker(withAccessToken(ctx, used), method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}

	token, rerr := s.refreshAfter(ctx, used)
	if rerr != nil {
		return err
	}

	// retry once with the refreshed token
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

// refreshAfter redeems the refresh token unless another call already
// replaced the access token that failed.
func (s *GRPCClient) refreshAfter(ctx context.Context, failed string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != failed {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", ErrNotLoggedIn
	}

	var resp gs.TokenPairResponse
	if err := s.invoke(ctx, gs.RefreshMethod, &gs.RefreshRequest{RefreshToken: s.refreshToken}, &resp); err != nil {
		s.accessToken, s.refreshToken = "", ""
		return "", err
	}
	s.accessToken, s.refreshToken = resp.AccessToken, resp.RefreshToken
	return s.accessToken, nil
}

// NewGRPCClient connects lazily to endpoint. Extra dial options are appended
// to the defaults (insecure transport, token interceptor).
func NewGRPCClient(endpoint string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.health = healthpb.NewHealthClient(conn)
	return c, nil
}

func (s *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	return s.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(gs.ContentSubtype))
}

func (s *GRPCClient) setTokens(p *gs.TokenPairResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken = p.AccessToken, p.RefreshToken
}

// Tokens returns the current token pair.
func (s *GRPCClient) Tokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken
}

func (s *GRPCClient) Register(ctx context.Context, email, password, firstName, lastName string) error {
	req := &gs.RegisterRequest{Email: email, Password: password, FirstName: firstName, LastName: lastName}

	var resp gs.TokenPairResponse
	if err := s.invoke(ctx, gs.RegisterMethod, req, &resp); err != nil {
		return s.mapError(err)
	}
	s.setTokens(&resp)
	return nil
}

func (s *GRPCClient) Login(ctx context.Context, email, password string) error {
	var resp gs.TokenPairResponse
	if err := s.invoke(ctx, gs.LoginMethod, &gs.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return s.mapError(err)
	}
	s.setTokens(&resp)
	return nil
}

// Logout revokes the held refresh token and forgets both tokens.
func (s *GRPCClient) Logout(ctx context.Context) error {
	_, refresh := s.Tokens()
	if refresh == "" {
		return nil
	}
	if err := s.invoke(ctx, gs.RevokeMethod, &gs.RevokeRequest{RefreshToken: refresh}, &gs.Empty{}); err != nil {
		return s.mapError(err)
	}
	s.setTokens(&gs.TokenPairResponse{})
	return nil
}

// LogoutEverywhere revokes every refresh token of the logged-in account.
func (s *GRPCClient) LogoutEverywhere(ctx context.Context) (int64, error) {
	var resp gs.RevokeAllResponse
	if err := s.invoke(ctx, gs.RevokeAllMethod, &gs.Empty{}, &resp); err != nil {
		return 0, s.mapError(err)
	}
	s.setTokens(&gs.TokenPairResponse{})
	return resp.Revoked, nil
}

func (s *GRPCClient) WhoAmI(ctx context.Context) (*gs.WhoAmIResponse, error) {
	var resp gs.WhoAmIResponse
	if err := s.invoke(ctx, gs.WhoAmIMethod, &gs.Empty{}, &resp); err != nil {
		return nil, s.mapError(err)
	}
	return &resp, nil
}

func (s *GRPCClient) Sessions(ctx context.Context) ([]gs.Session, error) {
	var resp gs.SessionsResponse
	if err := s.invoke(ctx, gs.SessionsMethod, &gs.Empty{}, &resp); err != nil {
		return nil, s.mapError(err)
	}
	return resp.Sessions, nil
}

// Ping reports ErrUnavailable unless the server's health status is SERVING.
func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidInput, st.Message())
	default:
		return err
	}
}
