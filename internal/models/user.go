package models

import (
	"time"

	"imjang/api/internal/utils"
)

// UserType distinguishes consumers from agent accounts.
type UserType string

const (
	UserTypeUser  UserType = "user"
	UserTypeAgent UserType = "agent"
)

// UserProfile is the profile behind an authenticated account.
// A consumer identity is a UserProfile of type "user".
type UserProfile struct {
	Base      `bson:",inline"`
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	Phone     string    `bson:"phone,omitempty" json:"phone,omitempty"`
	UserType  UserType  `bson:"user_type" json:"user_type"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Agent is a licensed broker identity linked one-to-one to a UserProfile.
type Agent struct {
	Base               `bson:",inline"`
	UserID             utils.SixID `bson:"user_id" json:"user_id"`
	OfficeName         string      `bson:"office_name" json:"office_name"`
	RepresentativeName string      `bson:"representative_name" json:"representative_name"`
	LicenseNumber      string      `bson:"license_number" json:"license_number"`
	Verified           bool        `bson:"verified" json:"verified"`
	Active             bool        `bson:"active" json:"active"`
}
