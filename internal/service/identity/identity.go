package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSigningMethod = "HS256"

var ErrNoToken = errors.New("no identity token in request")

// Claims of the service token the API gateway attaches to every request it
// forwards. Subject carries the user id. The gateway owns sessions and OAuth;
// this service only checks the gateway's signature.
type Claims struct {
	jwt.RegisteredClaims
}

type Config struct {
	// Secret key shared with the gateway
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string
}

type Verifier struct {
	key string
	alg jwt.SigningMethod
}

func New(cfg Config) (*Verifier, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	return &Verifier{
		key: cfg.SecretKey,
		alg: jwt.GetSigningMethod(cfg.Alg),
	}, nil
}

// Parse and validate the gateway token, return the user id it asserts.
// A token whose subject is missing or not a real user id is rejected.
func (v *Verifier) Verify(tokenString string) (uuid.UUID, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(v.key), nil
		},
		jwt.WithValidMethods([]string{v.alg.Alg()}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id. Err: %w", err)
	}
	if userID == uuid.Nil {
		return uuid.Nil, errors.New("token subject is an empty user id")
	}

	return userID, nil
}

// FromRequest extracts the user id from the Authorization header
func (v *Verifier) FromRequest(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return uuid.Nil, ErrNoToken
	}

	return v.Verify(token)
}

// Issue signs a token for the given user id. Production tokens come from the
// gateway; this is for tests and local tooling.
func (v *Verifier) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(v.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	return token.SignedString([]byte(v.key))
}
