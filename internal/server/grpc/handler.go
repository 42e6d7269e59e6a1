package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SessionService is the token lifecycle behind the handlers.
// *services.AuthService implements it.
type SessionService interface {
	Login(ctx context.Context, email, password string) (*models.TokenPair, error)
	Register(ctx context.Context, in models.NewAccount) (*models.TokenPair, error)
	Refresh(ctx context.Context, value string) (*models.TokenPair, error)
	RevokeOne(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	ActiveSessions(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

const ServiceName = "sessionkeeper.v1.Sessions"

const (
	LoginMethod     = "/" + ServiceName + "/Login"
	RegisterMethod  = "/" + ServiceName + "/Register"
	RefreshMethod   = "/" + ServiceName + "/Refresh"
	RevokeMethod    = "/" + ServiceName + "/Revoke"
	RevokeAllMethod = "/" + ServiceName + "/RevokeAll"
	WhoAmIMethod    = "/" + ServiceName + "/WhoAmI"
	SessionsMethod  = "/" + ServiceName + "/Sessions"
)

type sessionsServer interface {
	Login(context.Context, *LoginRequest) (*TokenPairResponse, error)
	Register(context.Context, *RegisterRequest) (*TokenPairResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenPairResponse, error)
	Revoke(context.Context, *RevokeRequest) (*Empty, error)
	RevokeAll(context.Context, *Empty) (*RevokeAllResponse, error)
	WhoAmI(context.Context, *Empty) (*WhoAmIResponse, error)
	Sessions(context.Context, *Empty) (*SessionsResponse, error)
}

var sessionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", sessionsServer.Login),
		unary("Register", sessionsServer.Register),
		unary("Refresh", sessionsServer.Refresh),
		unary("Revoke", sessionsServer.Revoke),
		unary("RevokeAll", sessionsServer.RevokeAll),
		unary("WhoAmI", sessionsServer.WhoAmI),
		unary("Sessions", sessionsServer.Sessions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionkeeper/v1/sessions",
}

func unary[Req, Resp any](name string, call func(sessionsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(sessionsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(sessionsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// toStatus maps service errors to gRPC codes without leaking internals.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidRefreshToken),
		errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrDuplicateAccount):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*TokenPairResponse, error) {
	pair, err := s.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return toTokenPairResponse(pair), nil
}

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*TokenPairResponse, error) {
	s.logger.Info(ctx, "Registration request")

	pair, err := s.sessions.Register(ctx, models.NewAccount{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toTokenPairResponse(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *RefreshRequest) (*TokenPairResponse, error) {
	pair, err := s.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return toTokenPairResponse(pair), nil
}

func (s *GRPCServer) Revoke(ctx context.Context, req *RevokeRequest) (*Empty, error) {
	if err := s.sessions.RevokeOne(ctx, req.RefreshToken); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) RevokeAll(ctx context.Context, _ *Empty) (*RevokeAllResponse, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	n, err := s.sessions.RevokeAll(ctx, claims.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RevokeAllResponse{Revoked: n}, nil
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *Empty) (*WhoAmIResponse, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	return &WhoAmIResponse{
		UserID:    claims.UserID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *GRPCServer) Sessions(ctx context.Context, _ *Empty) (*SessionsResponse, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	tokens, err := s.sessions.ActiveSessions(ctx, claims.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &SessionsResponse{Sessions: make([]Session, 0, len(tokens))}
	for _, t := range tokens {
		out.Sessions = append(out.Sessions, Session{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	return out, nil
}
