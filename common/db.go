package common

import (
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectDb opens the sqlite database backing users and posts. Returns nil
// when the database cannot be opened; the caller decides whether that is
// fatal.
func ConnectDb(dbFile string) *gorm.DB {
	if dbFile == "" {
		log.Println("database file not set")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{})
	if err != nil {
		log.Println("Error opening sqlite db: " + err.Error())
		return nil
	}
	log.Println("opened sqlite db at:", dbFile)
	return db
}
