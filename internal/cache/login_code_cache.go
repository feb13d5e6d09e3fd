package cache

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"triptrack/internal/apperr"
)

// MaxCodeAttempts is how many wrong guesses burn a login code
const MaxCodeAttempts = 5

var (
	errNoCode    = errors.New("login code missing")
	errWrongCode = errors.New("login code mismatch")
	errBurned    = errors.New("login code used up")
)

type loginCode struct {
	Code     string `json:"code"`
	Attempts int    `json:"attempts"`
	Used     bool   `json:"used"`
}

// LoginCodeCache keeps one pending login code per email
type LoginCodeCache interface {
	// Save replaces any pending code for email
	Save(ctx context.Context, email, code string) error
	// Consume checks code and spends it. Wrong guesses count towards
	// MaxCodeAttempts, after which the pending code is unusable.
	Consume(ctx context.Context, email, code string) error
}

type loginCodeCache struct {
	store Store
	ttl   time.Duration
}

// NewLoginCodeCache creates a new login code cache
func NewLoginCodeCache(store Store, ttl time.Duration) LoginCodeCache {
	return &loginCodeCache{store: store, ttl: ttl}
}

func (c *loginCodeCache) Save(ctx context.Context, email, code string) error {
	return c.store.Set(ctx, LoginCodeKey(email), loginCode{Code: code}, c.ttl)
}

func (c *loginCodeCache) Consume(ctx context.Context, email, code string) error {
	key := LoginCodeKey(email)
	var pending loginCode
	var verdict error
	err := c.store.Mutate(ctx, key, &pending, c.ttl, func(exists bool) (bool, error) {
		if !exists || pending.Used {
			return false, errNoCode
		}
		if pending.Attempts >= MaxCodeAttempts {
			return false, errBurned
		}
		if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) != 1 {
			pending.Attempts++
			verdict = errWrongCode
			return true, nil
		}
		pending.Used = true
		return true, nil
	})

	switch {
	case errors.Is(err, errNoCode):
		return apperr.Unauthorized(apperr.CodeInvalidCode, "code doesn't exist")
	case errors.Is(err, errBurned):
		return apperr.Unauthorized(apperr.CodeInvalidCode, "too many wrong codes, request a new one")
	case err != nil:
		return err
	case verdict != nil:
		return apperr.Unauthorized(apperr.CodeInvalidCode, "wrong code")
	}

	if _, err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	return nil
}
