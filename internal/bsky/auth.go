package bsky

import (
	"context"
	"errors"
)

type sessionOutput struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

// Login creates a session with the configured app password.
func (c *HTTPClient) Login(ctx context.Context) (*Session, error) {
	var out sessionOutput
	err := c.do(ctx, nil, request{
		method: "com.atproto.server.createSession",
		body: map[string]string{
			"identifier": c.identifier,
			"password":   c.password,
		},
	}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AuthError{Identifier: c.identifier, Err: err}
	}
	if out.AccessJwt == "" || out.Did == "" {
		return nil, &AuthError{Identifier: c.identifier, Err: errors.New("session response did not contain authentication tokens")}
	}
	c.log.Debug().Str("did", out.Did).Str("handle", out.Handle).Msg("logged in")
	return &Session{DID: out.Did, Handle: out.Handle, AccessJwt: out.AccessJwt, RefreshJwt: out.RefreshJwt}, nil
}

// refresh swaps s's tokens for fresh ones.
func (c *HTTPClient) refresh(ctx context.Context, s *Session) error {
	if s.RefreshJwt == "" {
		return &AuthError{Identifier: c.identifier, Err: errors.New("access token expired and no refresh token is available")}
	}
	var out sessionOutput
	err := c.do(ctx, s, request{method: "com.atproto.server.refreshSession", bearer: s.RefreshJwt}, &out)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &AuthError{Identifier: c.identifier, Err: err}
	}
	s.AccessJwt = out.AccessJwt
	s.RefreshJwt = out.RefreshJwt
	if out.Handle != "" {
		s.Handle = out.Handle
	}
	c.log.Debug().Str("did", s.DID).Msg("session refreshed")
	return nil
}
