package utils

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedCodec() *TokenCodec {
	return NewTokenCodec().WithClock(func() time.Time { return fixedNow })
}

func TestEncode_FillsRegisteredClaims(t *testing.T) {
	codec := fixedCodec()
	minutes := 60

	token, err := codec.Encode(map[string]any{"sub": "u1"}, "s", "HS256", &minutes)
	require.NoError(t, err)

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "HS256", decoded.Header["alg"])
	assert.Equal(t, "u1", decoded.Payload["sub"])
	assert.NotEmpty(t, decoded.Payload["jti"])
	iat, ok := ClaimUnix(decoded.Payload, "iat")
	require.True(t, ok)
	exp, ok := ClaimUnix(decoded.Payload, "exp")
	require.True(t, ok)
	assert.Equal(t, fixedNow.Unix(), iat)
	assert.Equal(t, iat+3600, exp)
	assert.NotEmpty(t, decoded.Signature)
}

func TestEncode_KeepsExplicitClaims(t *testing.T) {
	minutes := 5
	token, err := fixedCodec().Encode(map[string]any{"exp": 1700000000, "jti": "fixed", "iat": 1600000000}, "s", "HS512", &minutes)
	require.NoError(t, err)

	decoded, err := fixedCodec().Decode(token)
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, decoded.Payload["exp"])
	assert.EqualValues(t, 1600000000, decoded.Payload["iat"])
	assert.Equal(t, "fixed", decoded.Payload["jti"])
}

func TestEncode_NoExpiryWithoutMinutes(t *testing.T) {
	token, err := fixedCodec().Encode(nil, "s", "", nil)
	require.NoError(t, err)

	decoded, err := fixedCodec().Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "HS256", decoded.Header["alg"])
	assert.NotContains(t, decoded.Payload, "exp")
}

func TestEncode_Errors(t *testing.T) {
	codec := fixedCodec()

	_, err := codec.Encode(nil, "s", "XX999", nil)
	assert.ErrorIs(t, err, ErrTokenEncode)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = codec.Encode(nil, "", "HS256", nil)
	assert.ErrorIs(t, err, ErrTokenEncode)

	_, err = codec.Encode(nil, "not a pem key", "RS256", nil)
	assert.ErrorIs(t, err, ErrTokenEncode)
}

func pemBlock(t *testing.T, kind string, der []byte) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der}))
}

func TestEncode_AsymmetricAlgorithms(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edDER, err := x509.MarshalPKCS8PrivateKey(edKey)
	require.NoError(t, err)

	rsaPEM := pemBlock(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey))
	tests := []struct {
		alg string
		key string
	}{
		{"RS256", rsaPEM},
		{"PS256", rsaPEM},
		{"ES256", pemBlock(t, "EC PRIVATE KEY", ecDER)},
		{"EdDSA", pemBlock(t, "PRIVATE KEY", edDER)},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			token, err := fixedCodec().Encode(map[string]any{"sub": "svc"}, tt.key, tt.alg, nil)
			require.NoError(t, err)
			decoded, err := fixedCodec().Decode(token)
			require.NoError(t, err)
			assert.Equal(t, tt.alg, decoded.Header["alg"])
		})
	}
}

func TestDecode(t *testing.T) {
	codec := fixedCodec()

	_, err := codec.Decode("not-a-token")
	assert.ErrorIs(t, err, ErrTokenDecode)
	_, err = codec.Decode("a.b")
	assert.ErrorIs(t, err, ErrTokenDecode)

	// {"alg":"XX1","typ":"JWT"}.{"sub":"x"}
	decoded, err := codec.Decode(" eyJhbGciOiJYWDEiLCJ0eXAiOiJKV1QifQ.eyJzdWIiOiJ4In0.c2ln ")
	require.NoError(t, err)
	assert.Equal(t, "XX1", decoded.Header["alg"])
	assert.Equal(t, "x", decoded.Payload["sub"])
	assert.Equal(t, "c2ln", decoded.Signature)
}

func TestContext(t *testing.T) {
	codec := fixedCodec()
	token, err := codec.Encode(map[string]any{"sub": "u1"}, "s", "HS256", nil)
	require.NoError(t, err)

	tc := codec.Context(token)
	assert.Empty(t, tc.Error)
	assert.True(t, tc.SignaturePresent)
	assert.Equal(t, "HS256", tc.Header["alg"])

	bad := codec.Context("garbage")
	assert.Equal(t, "Token could not be decoded", bad.Error)
	assert.Nil(t, bad.Payload)
}

func TestAdminToken(t *testing.T) {
	token, err := GenerateAdminToken("ops", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAdminToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseAdminToken(token, "other")
	assert.Error(t, err)

	expired, err := GenerateAdminToken("ops", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAdminToken(expired, "secret")
	assert.Error(t, err)

	userToken, err := fixedCodec().Encode(map[string]any{"sub": "u1"}, "secret", "HS256", nil)
	require.NoError(t, err)
	_, err = ParseAdminToken(userToken, "secret")
	assert.Error(t, err)

	_, err = GenerateAdminToken("ops", "", time.Hour)
	assert.Error(t, err)
}
