package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"apicatalog.org/internal/auth"
)

// RefreshToken exchanges token for a fresh one. The backend answers with
// either {"accessToken"} or {"token"}.
func (c *Client) RefreshToken(ctx context.Context, token string) (string, error) {
	ctx = auth.ContextWithToken(ctx, token)
	data, err := c.do(ctx, call{op: "auth.refresh", method: http.MethodPost, path: "/api/auth/refreshToken"})
	if err != nil {
		return "", err
	}
	out, err := decodeOne[struct {
		AccessToken string `json:"accessToken"`
		Token       string `json:"token"`
	}]("auth.refresh", data)
	if err != nil {
		return "", err
	}
	fresh := strings.TrimSpace(out.AccessToken)
	if fresh == "" {
		fresh = strings.TrimSpace(out.Token)
	}
	if fresh == "" {
		return "", fmt.Errorf("auth.refresh: %w: empty token", ErrUnexpectedStatus)
	}
	return fresh, nil
}

type passwordEmail struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendPasswordEmail asks the backend to mail initial credentials.
func (c *Client) SendPasswordEmail(ctx context.Context, email, username, password string) error {
	_, err := c.do(ctx, call{
		op:     "email.password",
		method: http.MethodPost,
		path:   "/api/email/send-password",
		body:   passwordEmail{Email: email, Username: username, Password: password},
	})
	return err
}
