package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"triptrack/internal/apperr"
	"triptrack/internal/cache"
	"triptrack/internal/model"
	"triptrack/internal/queue"
	"triptrack/internal/repository"
)

const loginCodeDigits = 6

// CodeSender hands a login code over for delivery
type CodeSender interface {
	PublishLoginCode(ctx context.Context, msg queue.LoginCode) error
}

// AuthConfig holds the token and login code settings
type AuthConfig struct {
	AccessSecret string
	GuestSecret  string
	TokenTTL     time.Duration
	CodeTTL      time.Duration
	// Development returns login codes in the response instead of sending
	// them
	Development bool
}

// AuthService issues and validates user and guest tokens. Users and guests
// are signed with different secrets so a leaked guest secret cannot mint
// user tokens. Users prove their email with a one-time code.
type AuthService struct {
	users        repository.UserRepo
	codes        cache.LoginCodeCache
	sender       CodeSender
	accessSecret []byte
	guestSecret  []byte
	ttl          time.Duration
	codeTTL      time.Duration
	development  bool
}

// NewAuthService creates a new auth service
func NewAuthService(users repository.UserRepo, codes cache.LoginCodeCache, sender CodeSender, cfg AuthConfig) *AuthService {
	return &AuthService{
		users:        users,
		codes:        codes,
		sender:       sender,
		accessSecret: []byte(cfg.AccessSecret),
		guestSecret:  []byte(cfg.GuestSecret),
		ttl:          cfg.TokenTTL,
		codeTTL:      cfg.CodeTTL,
		development:  cfg.Development,
	}
}

// SendCode stores a fresh login code for the email and queues it for
// delivery. Outside development the code never appears in the response.
func (s *AuthService) SendCode(ctx context.Context, req model.SendCodeRequest) (*model.SendCodeResponse, error) {
	email := normalizeEmail(req.Email)
	code, err := randomDigits(loginCodeDigits)
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemAuth, err, "generate login code")
	}
	if err := s.codes.Save(ctx, email, code); err != nil {
		return nil, err
	}

	resp := &model.SendCodeResponse{
		Message: fmt.Sprintf("code sent successfully and will expire in %d minutes", int(s.codeTTL.Minutes())),
	}
	if s.development {
		resp.Code = code
		return resp, nil
	}

	msg := queue.LoginCode{Email: email, Code: code, ExpiresAt: time.Now().Add(s.codeTTL).UTC()}
	if err := s.sender.PublishLoginCode(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// VerifyCode spends a login code and returns a user token, creating the
// user on first login
func (s *AuthService) VerifyCode(ctx context.Context, req model.VerifyCodeRequest) (*model.LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if err := s.codes.Consume(ctx, email, strings.TrimSpace(req.Code)); err != nil {
		return nil, err
	}

	name, _, _ := strings.Cut(email, "@")
	user, created, err := s.users.GetOrCreateByEmail(ctx, email, name)
	if err != nil {
		return nil, err
	}

	identity := model.UserIdentity(user)
	token, err := s.issue(identity)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, Identity: identity, IsNew: created}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Guest returns a token for a new guest identity
func (s *AuthService) Guest(req model.GuestRequest) (*model.LoginResponse, error) {
	identity := model.GuestIdentity(uuid.NewString(), strings.TrimSpace(req.Name))
	token, err := s.issue(identity)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, Identity: identity}, nil
}

func (s *AuthService) issue(identity model.Identity) (string, error) {
	now := time.Now()
	claims := &model.AccessClaims{
		Role:  identity.Role,
		Name:  identity.Name,
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretFor(identity.Role))
	if err != nil {
		return "", apperr.Wrap(apperr.SubsystemAuth, err, "sign token")
	}
	return signed, nil
}

// ValidateToken verifies a token of either role and returns its identity
func (s *AuthService) ValidateToken(tokenString string) (model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		claims, ok := token.Claims.(*model.AccessClaims)
		if !ok {
			return nil, jwt.ErrTokenInvalidClaims
		}
		return s.secretFor(claims.Role), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, apperr.Unauthorized(apperr.CodeInvalidToken, "invalid or expired token")
	}

	claims, ok := token.Claims.(*model.AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return model.Identity{}, apperr.Unauthorized(apperr.CodeInvalidToken, "invalid or expired token")
	}
	return claims.Identity(), nil
}

func (s *AuthService) secretFor(role model.Role) []byte {
	if role == model.RoleGuest {
		return s.guestSecret
	}
	return s.accessSecret
}

// Profile returns the stored user behind a user identity
func (s *AuthService) Profile(ctx context.Context, caller model.Identity) (*model.User, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", caller.ID)
	}
	return user, nil
}

// UpdateProfile changes the caller's display name or image
func (s *AuthService) UpdateProfile(ctx context.Context, caller model.Identity, update model.ProfileUpdate) (*model.User, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}
	user, err := s.users.UpdateProfile(ctx, caller.ID, update.Name, update.ImageURL)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", caller.ID)
	}
	return user, nil
}
