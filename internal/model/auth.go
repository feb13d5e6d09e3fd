package model

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the JWT claims for both users and guests
type AccessClaims struct {
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts claims into the tagged identity
func (c *AccessClaims) Identity() Identity {
	switch c.Role {
	case RoleGuest:
		return GuestIdentity(c.Subject, c.Name)
	default:
		return Identity{Role: RoleUser, ID: c.Subject, Name: c.Name, Email: c.Email}
	}
}

// SendCodeRequest asks for a one-time login code
type SendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SendCodeResponse carries the code itself only in development
type SendCodeResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// VerifyCodeRequest trades a login code for a user token
type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// GuestRequest is the request body for a guest token
type GuestRequest struct {
	Name string `json:"name" validate:"required,min=1,max=50"`
}

// LoginResponse is returned after a token is issued
type LoginResponse struct {
	Token    string   `json:"token"`
	Identity Identity `json:"identity"`
	IsNew    bool     `json:"isNew,omitempty"`
}

// ProfileUpdate is a partial edit of the caller's user profile
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=50"`
	ImageURL *string `json:"imageUrl,omitempty" validate:"omitempty,url"`
}
