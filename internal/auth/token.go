package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims mirror the access token minted by the catalog backend.
type Claims struct {
	Role          string `json:"role"`
	Structure     string `json:"structure,omitempty"`
	Secteur       string `json:"secteur,omitempty"`
	Sector        string `json:"sector,omitempty"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	StructureName string `json:"structureName,omitempty"`
	SecteurName   string `json:"secteurName,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() *Principal {
	p := &Principal{
		SubjectID:       strings.TrimSpace(c.Subject),
		Role:            MapLegacyRole(c.Role),
		HomeStructureID: strings.TrimSpace(c.Structure),
		HomeSectorID:    strings.TrimSpace(c.Secteur),
		DisplayName:     strings.TrimSpace(c.Username),
		Email:           strings.TrimSpace(c.Email),
		StructureName:   c.StructureName,
		SectorName:      c.SecteurName,
	}
	if p.HomeSectorID == "" {
		p.HomeSectorID = strings.TrimSpace(c.Sector)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Email
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return p
}

// Resolver turns an opaque bearer credential into a Principal.
type Resolver struct {
	key    []byte
	now    func() time.Time
	leeway time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithVerificationKey enables HS256 signature verification. Without a key the
// token is decoded without verification, the same trust level as the browser
// portal which only reads its own token.
func WithVerificationKey(key []byte) ResolverOption {
	return func(r *Resolver) {
		if len(key) > 0 {
			r.key = append([]byte(nil), key...)
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d >= 0 {
			r.leeway = d
		}
	}
}

// NewResolver builds a Resolver. Default leeway is 5s.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		now:    time.Now,
		leeway: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verifies reports whether signatures are checked.
func (r *Resolver) Verifies() bool { return len(r.key) > 0 }

// Resolve decodes token. The returned principal is nil whenever err is non-nil.
func (r *Resolver) Resolve(token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if r.Verifies() {
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return r.key, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(r.now),
			jwt.WithLeeway(r.leeway),
		)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrTokenExpired
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !parsed.Valid {
			return nil, ErrInvalidToken
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.ExpiresAt != nil && !r.now().Before(claims.ExpiresAt.Time.Add(r.leeway)) {
			return nil, ErrTokenExpired
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims.principal(), nil
}

// SignToken mints an HS256 token carrying p. Used by the smoke tool and tests.
func SignToken(key []byte, p Principal, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is required")
	}
	if strings.TrimSpace(p.SubjectID) == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := Claims{
		Role:          string(p.Role),
		Structure:     p.HomeStructureID,
		Secteur:       p.HomeSectorID,
		Username:      p.DisplayName,
		Email:         p.Email,
		StructureName: p.StructureName,
		SecteurName:   p.SectorName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
