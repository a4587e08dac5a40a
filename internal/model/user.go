package model

import "strings"

// UserRecord is one candidate account taken from an uploaded CSV row.
type UserRecord struct {
	Email             string `json:"email"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Password          string `json:"-"`
	PasswordGenerated bool   `json:"password_generated"`
}

// DisplayName joins first and last name, falling back to the mailbox name.
func (u UserRecord) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.MailNickname()
	}
	return name
}

// MailNickname is the local part of the email address.
func (u UserRecord) MailNickname() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}
