package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a token that is missing, badly signed or
// expired.
var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenLifetime is used when the lifetime is not configured.
const DefaultTokenLifetime = 24 * time.Hour

// Tokens issues and checks HS256 bearer tokens carrying the username and
// role of a logged in account.
type Tokens struct {
	Secret   []byte
	Lifetime time.Duration
	Now      func() time.Time
}

// NewTokens creates a Tokens.
func NewTokens(secret string, lifetime time.Duration) *Tokens {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &Tokens{Secret: []byte(secret), Lifetime: lifetime, Now: time.Now}
}

// Issue returns a signed token for the account.
func (t *Tokens) Issue(account Account) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("no token secret")
	}

	now := t.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": account.Identity,
		"role":     account.Role,
		"iat":      now.Unix(),
		"exp":      now.Add(t.Lifetime).Unix(),
	})

	return token.SignedString(t.Secret)
}

// Parse checks the token and returns the account it was issued for.
func (t *Tokens) Parse(tokenString string) (Account, error) {
	if len(t.Secret) == 0 || len(tokenString) == 0 {
		return Account{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.Secret, nil
	}, jwt.WithTimeFunc(t.Now))

	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Account{}, ErrInvalidToken
	}

	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if len(username) == 0 {
		return Account{}, fmt.Errorf("%w: no username", ErrInvalidToken)
	}

	return Account{Identity: username, Role: role}, nil
}
