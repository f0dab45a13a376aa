package model

import (
	"strings"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email       string `json:"email" gorm:"uniqueIndex;not null"`
	Password    string `json:"-" gorm:"not null"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	CompanyName string `json:"company_name"`
	Currency    string `json:"currency" gorm:"default:'USD'"`
	Region      string `json:"region" gorm:"default:'global'"`
	IsAdmin     bool   `json:"is_admin" gorm:"default:false"`

	Subscriptions []Subscription `json:"-"`
	Invoices      []Invoice      `json:"-"`
}

func (u *User) GetFullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
