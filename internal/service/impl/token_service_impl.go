package impl

import (
	"time"

	"authgate/internal/domain"
	"authgate/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	SigningKey []byte // HS256 secret
}

type accessClaims struct {
	SID string `json:"sid"` // session id backing this token
	jwt.RegisteredClaims
}

// TokenServiceImpl mints and verifies the short-lived bearer tokens that ride
// on top of refresh sessions. It holds no session state of its own.
type TokenServiceImpl struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenServiceHS256(cfg TokenConfig) *TokenServiceImpl {
	return &TokenServiceImpl{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (t *TokenServiceImpl) Issue(subject domain.UserID, sessionID domain.SessionID) (string, int64, error) {
	now := t.now()
	claims := accessClaims{
		SID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   subject.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.SigningKey)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(t.cfg.AccessTTL.Seconds()), nil
}

func (t *TokenServiceImpl) Verify(tokenStr string) (*service.TokenClaims, error) {
	claims := &accessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithTimeFunc(t.now),
	)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	return &service.TokenClaims{
		Subject:   claims.Subject,
		SessionID: claims.SID,
	}, nil
}
