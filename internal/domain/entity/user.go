package entity

import "fmt"

// User is a directory entry owned by the auth service; messaging only reads
// the id and display name.
type User struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement:false" firestore:"id"`
	Name string `json:"name" gorm:"size:255;not null" firestore:"name"`
}

// FallbackUserName labels a participant the directory does not know.
func FallbackUserName(id int64) string {
	return fmt.Sprintf("User #%d", id)
}
