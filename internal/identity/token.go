// Package identity issues and verifies the bearer tokens the platform's main
// application mints for parents. ClearFund only needs the party identity out
// of the token; session management lives upstream.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

// Claims carries the party identity embedded in an access token.
type Claims struct {
	PartyID string `json:"party_id"`
	CaseID  string `json:"case_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService verifies HS256 access tokens shared with the main platform.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewTokenService(signingKey, issuer, audience string) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Issue mints a token for a party. Used by tests and local tooling; production
// tokens come from the platform's auth service with the same shared secret.
func (s *TokenService) Issue(partyID id.PartyID, caseID id.CaseID, expiresIn time.Duration) (string, error) {
	claims := Claims{
		PartyID: partyID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
		},
	}
	if !caseID.IsNil() {
		claims.CaseID = caseID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Verify parses and validates a token, returning its claims.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if claims.PartyID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no party identity")
	}
	return claims, nil
}
