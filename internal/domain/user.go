package domain

import (
	"strings"
	"time"
)

// User is a registered participant. The id is derived from the email, which is never stored.
type User struct {
	UserID     string `json:"id"`
	Nickname   string `json:"nickname"`
	IsVerified bool   `json:"is_verified"`
}

// NewUser builds an unverified user for the given email.
func NewUser(nickname, email string) User {
	return User{
		UserID:   UserIDFromEmail(email),
		Nickname: nickname,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserIDFromEmail is the content-addressed user id.
func UserIDFromEmail(email string) string {
	return ContentID("email:" + NormalizeEmail(email))
}

func (u User) ID() string        { return u.UserID }
func (u User) KeyPrefix() string { return PrefixUser }
func (u User) ListItem() string  { return u.UserID }

// TempCode maps an emailed one-time code to the user who requested it.
type TempCode struct {
	Code     string    `json:"-"`
	UserID   string    `json:"userId"`
	IssuedAt time.Time `json:"issuedAt"`
}

func (t TempCode) ID() string         { return t.Code }
func (t TempCode) KeyPrefix() string  { return PrefixTempCode }
func (t TempCode) ListItem() string   { return "" }
func (t TempCode) TTL() time.Duration { return TempCodeTTL }

// Expired reports whether the code is older than its lifetime at now.
func (t TempCode) Expired(now time.Time) bool {
	return now.Sub(t.IssuedAt) > TempCodeTTL
}

// AccessToken maps a bearer token to its user. It neither expires nor rotates.
type AccessToken struct {
	Token  string `json:"-"`
	UserID string `json:"userId"`
}

func (a AccessToken) ID() string        { return a.Token }
func (a AccessToken) KeyPrefix() string { return PrefixAccessToken }
func (a AccessToken) ListItem() string  { return "" }

// SignUpRequest is the body of POST /api/v1/user/signup.
type SignUpRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// Validate checks the request fields.
func (r SignUpRequest) Validate() error {
	if strings.TrimSpace(r.Nickname) == "" {
		return ValidationError{Field: "nickname", Reason: "must not be empty"}
	}
	email := NormalizeEmail(r.Email)
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 {
		return ValidationError{Field: "email", Reason: "must be an address"}
	}
	return nil
}
