package domain

// UserStatus represents lifecycle states for a directory user.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is a directory entry that tickets reference as orderer, updater or assignee.
type User struct {
	ID     string
	Name   string
	Email  string
	Status UserStatus
}
