// README: Account client: register, login into the session store, logout.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"ridesync/internal/logging"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/session"
)

var (
	ErrMissingFields      = errors.New("please fill all the fields")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
	IsDriver bool   `json:"isDriver"`
}

func (r RegisterRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Email) == "" ||
		strings.TrimSpace(r.Phone) == "" || r.Password == "" {
		return fmt.Errorf("%w: %w", order.ErrValidation, ErrMissingFields)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return fmt.Errorf("%w: invalid email %q", order.ErrValidation, r.Email)
	}
	return nil
}

type Service struct {
	rest  order.Doer
	store session.Store
	log   *zap.Logger
}

func NewService(rest order.Doer, store session.Store, logger *zap.Logger) *Service {
	return &Service{rest: rest, store: store, log: logging.OrNop(logger).Named("account")}
}

// Register creates an account and returns the store's confirmation message.
// It does not sign in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	var resp struct {
		Message string `json:"message"`
	}
	if err := s.rest.Do(ctx, http.MethodPost, "/users/register", req, &resp); err != nil {
		return "", err
	}
	s.log.Info("account registered", zap.String("email", req.Email), zap.Bool("driver", req.IsDriver))
	return resp.Message, nil
}

type loginResponse struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Login authenticates and writes token and user to the session store.
func (s *Service) Login(ctx context.Context, email, password string) (session.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return session.Session{}, fmt.Errorf("%w: please enter both email and password", order.ErrValidation)
	}
	var resp loginResponse
	err := s.rest.Do(ctx, http.MethodPost, "/users/login", map[string]string{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": password,
	}, &resp)
	if err != nil {
		return session.Session{}, err
	}
	if resp.Token == "" {
		return session.Session{}, ErrInvalidCredentials
	}
	u, err := session.ParseUser(string(resp.User))
	if err != nil {
		return session.Session{}, err
	}
	sess := session.Session{Token: resp.Token, User: u}
	if err := session.Save(ctx, s.store, sess); err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.log.Info("signed in", zap.String("user", string(u.ID)), zap.Bool("driver", u.IsDriver))
	return sess, nil
}

// Logout removes token and user together.
func (s *Service) Logout(ctx context.Context) error {
	if err := session.Clear(ctx, s.store); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}
