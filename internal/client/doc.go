// Package client is a Go client for the sessionkeeper gRPC service.
//
// GRPCClient keeps the current token pair, attaches the access token to
// every protected call and, when the server rejects it as unauthenticated,
// redeems the refresh token once and retries. Transport failures and
// rejections are mapped to ErrUnavailable, ErrUnauthorized and friends so
// callers can match them with errors.Is.
package client
