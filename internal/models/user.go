package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultBio is given to every new account.
const DefaultBio = "Hi! I'm new to chillspot"

// Image is a reference to an object in the image bucket
type Image struct {
	URL string `json:"url" bson:"url"`
	Key string `json:"key" bson:"key"`
}

// User represents an account
type User struct {
	ID          bson.ObjectID   `json:"_id" bson:"_id,omitempty"`
	Firstname   string          `json:"firstname" bson:"firstname"`
	Lastname    string          `json:"lastname" bson:"lastname"`
	Username    string          `json:"username" bson:"username"`
	Email       string          `json:"email" bson:"email"`
	Hash        string          `json:"-" bson:"hash,omitempty"` // bcrypt digest (never in JSON)
	Bio         string          `json:"bio" bson:"bio"`
	Avatar      Image           `json:"avatar" bson:"avatar"`
	Followers   []bson.ObjectID `json:"followers" bson:"followers"`
	Following   []bson.ObjectID `json:"following" bson:"following"`
	Collections []bson.ObjectID `json:"collections" bson:"collections"` // saved stories
	Stories     []bson.ObjectID `json:"stories" bson:"stories"`
	Likes       []bson.ObjectID `json:"likes" bson:"likes"`
	Archive     []bson.ObjectID `json:"archive" bson:"archive"`
	CreatedAt   time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// NewUser builds an account with empty relation lists and the default bio
func NewUser(firstname, lastname, username, email, hash string, avatar Image) *User {
	return &User{
		Firstname:   firstname,
		Lastname:    lastname,
		Username:    username,
		Email:       email,
		Hash:        hash,
		Bio:         DefaultBio,
		Avatar:      avatar,
		Followers:   []bson.ObjectID{},
		Following:   []bson.ObjectID{},
		Collections: []bson.ObjectID{},
		Stories:     []bson.ObjectID{},
		Likes:       []bson.ObjectID{},
		Archive:     []bson.ObjectID{},
	}
}

// Follower is a user row returned by follower listings
type Follower struct {
	ID        bson.ObjectID `json:"_id" bson:"_id"`
	Firstname string        `json:"firstname" bson:"firstname"`
	Lastname  string        `json:"lastname" bson:"lastname"`
	Username  string        `json:"username" bson:"username"`
	Bio       string        `json:"bio" bson:"bio"`
	Avatar    Image         `json:"avatar" bson:"avatar"`
	Stories   []Story       `json:"stories" bson:"stories"`
}

// SignupRequest represents signup request payload
type SignupRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the data of a successful signup or login
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// UpdateProfileRequest lists the profile fields a user may change
type UpdateProfileRequest struct {
	Firstname *string `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Email     *string `json:"email"`
	Username  *string `json:"username"`
	Bio       *string `json:"bio"`
	Avatar    *Image  `json:"avatar"`
}

// ChangePasswordRequest represents password change payload
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	Password    string `json:"password"`
}

// DeleteAccountRequest confirms account removal
type DeleteAccountRequest struct {
	Password string `json:"password"`
}
