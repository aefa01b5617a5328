// Receipt verification.
//
// A receipt is the provider-signed proof that a human completed the
// challenge. It arrives as a standard three-part signed token whose subject
// claim carries the challenge identifier. Verification is pure: no I/O, no
// database access, and a single opaque failure toward callers regardless of
// which check tripped (the concrete reason is logged for operators only).
package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	// receiptAlg is the only accepted signing algorithm. The allow-list is
	// explicit rather than inferred from the receipt's own header, which
	// would reintroduce algorithm-confusion attacks.
	receiptAlg = "HS256"

	defaultLeeway       = 30 * time.Second
	defaultMaxFutureIAT = 2 * time.Minute
)

// ReceiptVerifier validates signed receipts against the shared secret.
type ReceiptVerifier struct {
	secret []byte
	parser *jwt.Parser
	// maxFutureIAT caps how far in the future an issued-at claim may sit
	// before the receipt is rejected, over and above normal clock leeway.
	maxFutureIAT time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewReceiptVerifier constructs a verifier for the given shared secret.
func NewReceiptVerifier(secret string, log zerolog.Logger) *ReceiptVerifier {
	return &ReceiptVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{receiptAlg}),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
		),
		maxFutureIAT: defaultMaxFutureIAT,
		now:          time.Now,
		log:          log.With().Str("component", "receipt").Logger(),
	}
}

// Verify checks the receipt's signature and time claims and returns the
// embedded challenge identifier. Every failure collapses to
// ErrInvalidReceipt.
func (v *ReceiptVerifier) Verify(receipt string) (string, jwt.MapClaims, error) {
	if receipt == "" {
		return "", nil, ErrInvalidReceipt
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(receipt, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		v.log.Debug().Err(err).Msg("receipt rejected")
		return "", nil, ErrInvalidReceipt
	}

	// The parser already enforces exp/nbf with leeway; additionally reject
	// an issued-at further in the future than small clock skew allows.
	if iat, err := claims.GetIssuedAt(); err != nil {
		v.log.Debug().Err(err).Msg("receipt rejected: unreadable iat")
		return "", nil, ErrInvalidReceipt
	} else if iat != nil && iat.After(v.now().Add(v.maxFutureIAT)) {
		v.log.Debug().Time("iat", iat.Time).Msg("receipt rejected: iat in the future")
		return "", nil, ErrInvalidReceipt
	}

	challenge, err := subjectString(claims)
	if err != nil {
		v.log.Debug().Err(err).Msg("receipt rejected: bad subject")
		return "", nil, ErrInvalidReceipt
	}
	return challenge, claims, nil
}

// subjectString extracts the subject claim as a string, accepting the
// numeric form some providers emit.
func subjectString(claims jwt.MapClaims) (string, error) {
	raw, ok := claims["sub"]
	if !ok {
		return "", fmt.Errorf("missing subject")
	}
	switch sub := raw.(type) {
	case string:
		if sub == "" {
			return "", fmt.Errorf("empty subject")
		}
		return sub, nil
	case float64:
		return strconv.FormatFloat(sub, 'f', -1, 64), nil
	case json.Number:
		return sub.String(), nil
	default:
		return "", fmt.Errorf("unsupported subject type %T", raw)
	}
}
