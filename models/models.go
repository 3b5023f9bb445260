package models

import "time"

// User is a registered account. ResetToken is set while a password reset is
// pending and cleared to the empty string as soon as it is consumed.
type User struct {
	ID           int       `gorm:"primary_key;autoIncrement" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `gorm:"unique;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	ResetToken   string    `gorm:"index" json:"-"`
	CreatedAt    time.Time `json:"created_at"`

	// Posts owned by this user, in creation order.
	Posts []Post `gorm:"foreignKey:UserID" json:"-"`
}

// Post is a published entry. Slug is derived from the title and is not
// guaranteed unique; lookups by slug take the lowest id on collision.
// Image is the stored filename of the uploaded cover image.
type Post struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID    int       `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"not null" json:"title"`
	Slug      string    `gorm:"not null;index" json:"slug"`
	Content   string    `gorm:"type:text" json:"content"`
	Image     string    `gorm:"not null" json:"image"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"-"`
}
