package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

var (
	ErrTokenDecode          = errors.New("Invalid JWT format. Could not decode Base64 sections.")
	ErrTokenEncode          = errors.New("Generation failed")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// TokenCodec decodes tokens for inspection and signs new ones.
// Decoding never verifies the signature.
type TokenCodec struct {
	now func() time.Time
}

func NewTokenCodec() *TokenCodec {
	return &TokenCodec{now: time.Now}
}

// WithClock returns a codec that reads time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	return &TokenCodec{now: now}
}

func (c *TokenCodec) Decode(tokenString string) (*types.DecodedToken, error) {
	tokenString = strings.TrimSpace(tokenString)
	claims := jwt.MapClaims{}
	token, parts, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		// unknown "alg" values still decode, only the method lookup fails
		if !errors.Is(err, jwt.ErrTokenUnverifiable) || token == nil {
			return nil, ErrTokenDecode
		}
	}

	decoded := &types.DecodedToken{
		Header:  token.Header,
		Payload: map[string]any(claims),
	}
	if len(parts) == 3 {
		decoded.Signature = parts[2]
	}
	return decoded, nil
}

// Context builds the session snapshot for a token. Undecodable tokens yield
// a context carrying only an error marker.
func (c *TokenCodec) Context(tokenString string) types.TokenContext {
	decoded, err := c.Decode(tokenString)
	if err != nil {
		return types.TokenContext{Error: "Token could not be decoded"}
	}
	return types.TokenContext{
		Header:           decoded.Header,
		Payload:          decoded.Payload,
		SignaturePresent: decoded.Signature != "",
	}
}

// Encode signs payload with key. iat and jti are filled in when absent, and
// exp is derived from expiresInMinutes unless the payload already sets it.
func (c *TokenCodec) Encode(payload map[string]any, key, algorithm string, expiresInMinutes *int) (string, error) {
	if algorithm == "" {
		algorithm = "HS256"
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return "", fmt.Errorf("%w: %w %q", ErrTokenEncode, ErrUnsupportedAlgorithm, algorithm)
	}

	now := c.now().UTC()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	if _, ok := claims["jti"]; !ok {
		claims["jti"] = uuid.NewString()
	}
	if expiresInMinutes != nil {
		if _, ok := claims["exp"]; !ok {
			claims["exp"] = now.Add(time.Duration(*expiresInMinutes) * time.Minute).Unix()
		}
	}

	signingKey, err := signingKeyFor(method, key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenEncode, err)
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenEncode, err)
	}
	return signed, nil
}

func signingKeyFor(method jwt.SigningMethod, key string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if key == "" {
			return nil, errors.New("secret cannot be empty")
		}
		return []byte(key), nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPrivateKeyFromPEM([]byte(key))
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPrivateKeyFromPEM([]byte(key))
	case *jwt.SigningMethodEd25519:
		return jwt.ParseEdPrivateKeyFromPEM([]byte(key))
	}
	if method == jwt.SigningMethodNone {
		return jwt.UnsafeAllowNoneSignatureType, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedAlgorithm, method.Alg())
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const adminRole = "admin"

func GenerateAdminToken(subject, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is not configured")
	}
	now := time.Now()
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAdminToken(tokenString, secret string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != adminRole {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
