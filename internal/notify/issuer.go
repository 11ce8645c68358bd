package notify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Recipient identifies the account credentials are issued for.
type Recipient struct {
	Email    string
	Username string
}

// Mailer delivers an initial password. backend.Client implements it.
type Mailer interface {
	SendPasswordEmail(ctx context.Context, email, username, password string) error
}

// Issuer creates login credentials for an accepted member.
type Issuer interface {
	Issue(ctx context.Context, to Recipient) error
}

const (
	passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%*?"
	defaultLength    = 14
)

// PasswordIssuer generates a random initial password and mails it.
type PasswordIssuer struct {
	mailer Mailer
	length int
}

// NewPasswordIssuer returns an issuer backed by m. length < 8 means 14.
func NewPasswordIssuer(m Mailer, length int) *PasswordIssuer {
	if length < 8 {
		length = defaultLength
	}
	return &PasswordIssuer{mailer: m, length: length}
}

func (p *PasswordIssuer) Issue(ctx context.Context, to Recipient) error {
	email := strings.TrimSpace(to.Email)
	if email == "" {
		return errors.New("notify: recipient email is required")
	}
	username := strings.TrimSpace(to.Username)
	if username == "" {
		username = email
	}
	pw, err := GeneratePassword(p.length)
	if err != nil {
		return err
	}
	if err := p.mailer.SendPasswordEmail(ctx, email, username, pw); err != nil {
		return fmt.Errorf("notify: send credentials to %s: %w", email, err)
	}
	return nil
}

// GeneratePassword returns n characters drawn uniformly from the alphabet.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("notify: password length must be positive")
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("notify: generate password: %w", err)
		}
		b.WriteByte(passwordAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
