package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// User is the account returned by the backend.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Credentials log an existing user in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration creates a user.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// Session is the result of a successful login or registration.
type Session struct {
	Token string
	User  User
}

// ErrNoTokenIssued is returned when a login or registration succeeds without a token in the response.
var ErrNoTokenIssued = errors.New("backend: no token in response")

type sessionPayload struct {
	Token       string `json:"token"`
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
	Data        *struct {
		Token string `json:"token"`
		User  *User  `json:"user"`
	} `json:"data"`
}

func (p sessionPayload) toSession() (Session, error) {
	s := Session{Token: strings.TrimSpace(p.Token)}
	if s.Token == "" {
		s.Token = strings.TrimSpace(p.AccessToken)
	}
	if p.User != nil {
		s.User = *p.User
	}
	if p.Data != nil {
		if s.Token == "" {
			s.Token = strings.TrimSpace(p.Data.Token)
		}
		if p.User == nil && p.Data.User != nil {
			s.User = *p.Data.User
		}
	}
	if s.Token == "" {
		return Session{}, ErrNoTokenIssued
	}
	return s, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	var payload sessionPayload
	if err := c.call(ctx, "login", http.MethodPost, "users/login", creds, "", &payload); err != nil {
		return Session{}, err
	}
	return payload.toSession()
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, reg Registration) (Session, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	var payload sessionPayload
	if err := c.call(ctx, "register", http.MethodPost, "users/register", reg, "", &payload); err != nil {
		return Session{}, err
	}
	return payload.toSession()
}

// Profile returns the signed-in user.
func (c *Client) Profile(ctx context.Context, token string) (User, error) {
	token, err := requireToken(token)
	if err != nil {
		return User{}, err
	}
	var payload struct {
		User
		Wrapped *User `json:"user"`
	}
	if err := c.call(ctx, "profile", http.MethodGet, "users/profile", nil, token, &payload); err != nil {
		return User{}, err
	}
	if payload.Wrapped != nil {
		return *payload.Wrapped, nil
	}
	return payload.User, nil
}
