package model

// TripInput is the body of a trip creation request
type TripInput struct {
	Name        string       `json:"name" validate:"required,min=1,max=100"`
	Description string       `json:"description" validate:"max=1000"`
	Stops       []Stop       `json:"stops" validate:"required,min=1,dive"`
	Guides      []string     `json:"guides,omitempty" validate:"omitempty,dive,mongodb"`
	Reward      *RewardInput `json:"reward,omitempty"`
}

// RewardInput carries the reward title only; the image URL is set by upload
type RewardInput struct {
	Title string `json:"title" validate:"max=100"`
}

// TripUpdate is a partial edit of a trip still in the created status
type TripUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	Stops       []Stop  `json:"stops,omitempty" validate:"omitempty,min=1,dive"`
}

// Empty reports whether the update changes nothing
func (u TripUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Stops == nil
}

type GuidesUpdate struct {
	Guides []string `json:"guides" validate:"dive,mongodb"`
}

// JoinRequest is the body of a join call; empty fields fall back to the
// caller's identity
type JoinRequest struct {
	Name     string `json:"name" validate:"max=50"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
}

type RenameRequest struct {
	Name string `json:"name" validate:"required,min=1,max=50"`
}

// Page is a 1-based pagination window
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Normalize clamps the page into sane bounds
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	return p
}
