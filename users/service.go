package users

import (
	"context"

	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// DefaultCurrentUserPath is where the API serves the signed-in user.
const DefaultCurrentUserPath = "/api/users/me"

// Getter is the part of *httpclient.Client the service needs.
type Getter interface {
	Get(ctx context.Context, path string, out any, opts ...httpclient.RequestOption) (*httpclient.Response, error)
}

type Service struct {
	client Getter
	path   string
}

type ServiceOption func(*Service)

// WithPath changes the current user endpoint, e.g. "/api/auth/me".
func WithPath(path string) ServiceOption {
	return func(s *Service) {
		if path != "" {
			s.path = path
		}
	}
}

func NewService(client Getter, opts ...ServiceOption) *Service {
	s := &Service{client: client, path: DefaultCurrentUserPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current fetches the signed-in user with the current access token.
func (s *Service) Current(ctx context.Context) (*User, error) {
	var u User
	resp, err := s.client.Get(ctx, s.path, &u)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		return nil, errors.Wrapf(errors.ErrProtocol, "GET %s returned no user", s.path)
	}
	return &u, nil
}
