package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dukerupert/cohabit/internal/model"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is a successful login: the bearer token and the user it
// belongs to.
type LoginResult struct {
	Token string
	User  model.User
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	Token       string    `json:"token"`
	User        *wireUser `json:"user"`
	Message     string    `json:"message"`
}

type autoLoginResponse struct {
	Success bool      `json:"success"`
	User    *wireUser `json:"user"`
	Message string    `json:"message"`
}

// ErrNoToken is returned by Login when the backend answers 2xx without a token.
var ErrNoToken = errors.New("login response carried no token")

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "auth_login", creds, &resp); err != nil {
		return nil, err
	}

	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return nil, ErrNoToken
	}

	result := &LoginResult{Token: token}
	if resp.User != nil {
		result.User = resp.User.model()
	}
	if result.User.Email == "" {
		result.User.Email = creds.Email
	}
	return result, nil
}

// AutoLogin asks the backend to resolve the stored token to a user. ok is
// false when the backend answers but does not report success.
func (c *Client) AutoLogin(ctx context.Context) (user model.User, ok bool, err error) {
	var resp autoLoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/auto-login", "auth_auto_login", nil, &resp); err != nil {
		return model.User{}, false, err
	}
	if !resp.Success || resp.User == nil {
		return model.User{}, false, nil
	}
	return resp.User.model(), true, nil
}
