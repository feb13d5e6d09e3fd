package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Email     string             `json:"email" bson:"email"`
	Name      string             `json:"name,omitempty" bson:"name,omitempty"`
	ImageURL  string             `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Identity is who is acting: a registered user or a guest. Only users carry
// an email; code must switch on Role before reading it.
type Identity struct {
	Role  Role   `json:"role"`
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (i Identity) IsGuest() bool { return i.Role == RoleGuest }

// UserIdentity builds the identity of a registered user
func UserIdentity(u *User) Identity {
	return Identity{Role: RoleUser, ID: u.ID.Hex(), Name: u.Name, Email: u.Email}
}

// GuestIdentity builds the identity of a guest
func GuestIdentity(id, name string) Identity {
	return Identity{Role: RoleGuest, ID: id, Name: name}
}
