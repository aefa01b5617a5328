package services

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func signWith(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerify_ValidReceipt(t *testing.T) {
	v := NewReceiptVerifier(testSecret, zerolog.Nop())
	now := time.Now()
	receipt := signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "ch-123",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})

	challenge, claims, err := v.Verify(receipt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if challenge != "ch-123" {
		t.Fatalf("challenge = %q, want ch-123", challenge)
	}
	if claims["sub"] != "ch-123" {
		t.Fatalf("claims not returned: %v", claims)
	}
}

func TestVerify_NumericSubject(t *testing.T) {
	v := NewReceiptVerifier(testSecret, zerolog.Nop())
	now := time.Now()
	receipt := signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": 987654,
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})

	challenge, _, err := v.Verify(receipt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if challenge != "987654" {
		t.Fatalf("challenge = %q, want 987654", challenge)
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewReceiptVerifier(testSecret, zerolog.Nop())
	now := time.Now()
	fresh := jwt.MapClaims{
		"sub": "ch-123",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not.a.receipt",
		"wrong key": signWith(t, jwt.SigningMethodHS256, "other-secret", fresh),
		"wrong algorithm": signWith(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{
			"sub": "ch-123", "iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
		}),
		"expired": signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "ch-123", "iat": now.Add(-time.Hour).Unix(), "exp": now.Add(-2 * time.Minute).Unix(),
		}),
		"no expiry": signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "ch-123", "iat": now.Unix(),
		}),
		"future iat": signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "ch-123", "iat": now.Add(10 * time.Minute).Unix(), "exp": now.Add(20 * time.Minute).Unix(),
		}),
		"missing subject": signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
		}),
		"empty subject": signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "", "iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
		}),
	}

	for name, receipt := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := v.Verify(receipt); !errors.Is(err, ErrInvalidReceipt) {
				t.Fatalf("got %v, want ErrInvalidReceipt", err)
			}
		})
	}
}

func TestVerify_SmallClockSkewTolerated(t *testing.T) {
	v := NewReceiptVerifier(testSecret, zerolog.Nop())
	now := time.Now()
	// iat a few seconds ahead sits inside both the parser leeway and the
	// future-iat cap.
	receipt := signWith(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "ch-123",
		"iat": now.Add(10 * time.Second).Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})
	if _, _, err := v.Verify(receipt); err != nil {
		t.Fatalf("skewed receipt rejected: %v", err)
	}
}
