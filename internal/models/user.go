package models

import (
	"time"
)

type User struct {
	Username     string    `json:"username" dynamodbav:"username"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Roles        []string  `json:"roles" dynamodbav:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.Username
}

func (u *User) GetSK() string {
	return "METADATA"
}
