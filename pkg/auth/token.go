package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintAccessToken issues a signed JWT for the provided payload using the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := requireSigningConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid token role %q", payload.Role)
	}
	wallet := strings.TrimSpace(payload.Wallet)
	if wallet == "" {
		return "", fmt.Errorf("wallet is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := AccessTokenClaims{
		Wallet: wallet,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}
	return sign(cfg, claims)
}

// ParseAccessToken validates the JWT string and returns typed claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &AccessTokenClaims{}
	if err := parse(cfg, tokenString, claims); err != nil {
		return nil, err
	}
	if slices.Contains(claims.Audience, ConsentAudience) {
		return nil, fmt.Errorf("consent token cannot be used for authentication")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid token role %q", claims.Role)
	}
	if claims.Wallet == "" {
		claims.Wallet = claims.Subject
	}
	if claims.Wallet == "" {
		return nil, fmt.Errorf("token carries no wallet")
	}
	return claims, nil
}

// MintConsentToken signs a party's approval of a fund movement, valid for ttl.
func MintConsentToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, payload ConsentPayload) (string, time.Time, error) {
	if err := requireSigningConfig(cfg); err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("consent ttl must be positive")
	}
	if payload.DepositID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("deposit id is required")
	}
	if !payload.Action.IsValid() {
		return "", time.Time{}, fmt.Errorf("invalid consent action %q", payload.Action)
	}
	if !payload.Party.IsParty() {
		return "", time.Time{}, fmt.Errorf("only renter or landlord can consent, got %q", payload.Party)
	}

	expiresAt := now.Add(ttl)
	claims := ConsentClaims{
		DepositID: payload.DepositID,
		Action:    payload.Action,
		Party:     payload.Party,
		Wallet:    payload.Wallet,
		Recipient: payload.Recipient,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.Wallet,
			Audience:  jwt.ClaimStrings{ConsentAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := sign(cfg, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseConsentToken validates a consent token minted by MintConsentToken.
func ParseConsentToken(cfg config.JWTConfig, tokenString string) (*ConsentClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	claims := &ConsentClaims{}
	if err := parse(cfg, tokenString, claims, jwt.WithAudience(ConsentAudience)); err != nil {
		return nil, err
	}
	return claims, nil
}

func requireSigningConfig(cfg config.JWTConfig) error {
	if cfg.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return fmt.Errorf("jwt issuer is required")
	}
	return nil
}

func sign(cfg config.JWTConfig, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func parse(cfg config.JWTConfig, tokenString string, claims jwt.Claims, extra ...jwt.ParserOption) error {
	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	}, extra...)

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		opts...,
	)
	return err
}
