package models

import "time"

// User is the persisted account record. Secrets never serialize.
type User struct {
	ID                       string     `json:"id"`
	Username                 string     `json:"username"`
	Email                    string     `json:"email"`
	PasswordHash             string     `json:"-"`
	IsVerified               bool       `json:"isVerified"`
	VerificationToken        string     `json:"-"`
	NextVerificationResendAt *time.Time `json:"-"`
	Location                 *Location  `json:"location"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// Location is the last coordinate pair a user pushed.
type Location struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	LastLocationUpdate time.Time `json:"lastLocationUpdate"`
	Geohash            string    `json:"geohash,omitempty"`
}

// Profile is the public view of a user returned by GET /api/user/profile.
type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	IsVerified bool      `json:"isVerified"`
	Location   *Location `json:"location"`
}

// Summary is the user block returned alongside a login token.
type Summary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		Location:   u.Location,
	}
}

// Summary returns the login summary of u.
func (u User) Summary() Summary {
	return Summary{ID: u.ID, Username: u.Username, Email: u.Email}
}
