package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/partyround/internal/platform/errors"
	"github.com/louisbranch/partyround/internal/platform/requestctx"
)

// Caller roles carried in the token's role claim.
const (
	RoleHost        = "host"
	RoleModerator   = "moderator"
	RoleParticipant = "participant"
)

// Claims are issued by the upstream gateway. Subject is the participant
// number for participants and an opaque account id otherwise.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Match string `json:"match"`
}

// Verifier checks HS256 caller tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a verifier for tokens signed with secret.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}, nil
}

// Verify parses token and returns the caller it names.
func (v *Verifier) Verify(token string) (requestctx.Caller, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return requestctx.Caller{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid caller token", err)
	}
	switch claims.Role {
	case RoleHost, RoleModerator:
	case RoleParticipant:
		if n, err := strconv.Atoi(claims.Subject); err != nil || n <= 0 {
			return requestctx.Caller{}, apperrors.New(apperrors.CodeUnauthenticated, "participant subject must be a participant number")
		}
	default:
		return requestctx.Caller{}, apperrors.New(apperrors.CodeUnauthenticated, fmt.Sprintf("unknown role %q", claims.Role))
	}
	if claims.Match == "" {
		return requestctx.Caller{}, apperrors.New(apperrors.CodeUnauthenticated, "match claim is required")
	}
	return requestctx.Caller{Subject: claims.Subject, Role: claims.Role, MatchID: claims.Match}, nil
}

// IssueToken signs a caller token. Operators and tests use it; production
// tokens come from the gateway.
func IssueToken(secret string, caller requestctx.Caller, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:  caller.Role,
		Match: caller.MatchID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign caller token: %w", err)
	}
	return signed, nil
}

func participantNum(c requestctx.Caller) int {
	if c.Role != RoleParticipant {
		return 0
	}
	n, _ := strconv.Atoi(c.Subject)
	return n
}

func privileged(c requestctx.Caller) bool {
	return c.Role == RoleHost || c.Role == RoleModerator
}
