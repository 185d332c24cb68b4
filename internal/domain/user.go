package domain

// User Model
type User struct {
	ID       string `gorm:"primaryKey;size:36"`            // Primary key, shared with Account
	Email    string `gorm:"uniqueIndex;size:191;not null"` // Unique, lower-cased email
	Password string `gorm:"not null" json:"-"`             // Hashed password
	Role     string `gorm:"size:16;default:user"`          // Role: user or admin
}

// Role names
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
