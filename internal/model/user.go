// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered user account.
//
// Two identity sources feed this table: GitHub OAuth and email/password.
// GitHubID is nil for password accounts, PasswordHash is empty for GitHub
// accounts. We still generate our own internal string ID (xid) for both, so
// snippets reference a stable owner no matter how the user signed in.
//
// WHY PasswordHash HAS json:"-"?
// The hash must never leave the server, even by accident through /api/me.
type User struct {
	ID           string    `json:"id"`
	GitHubID     *int64    `json:"githubId,omitempty"`
	Login        string    `json:"login"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	AvatarURL    string    `json:"avatarUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DisplayName is what gets denormalised into Snippet.Author.
func (u *User) DisplayName() string {
	if u.Login != "" {
		return u.Login
	}
	return u.Email
}
