package main

import (
	"errors"
	"log"
	"os"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"
	"github.com/JalejandroV93/student-tracking-sub001/utils"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// Creates or refreshes the initial dashboard admin from ADMIN_EMAIL and
// ADMIN_PASSWORD. Safe to re-run.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}
	if !utils.ValidateEmail(email) {
		log.Fatalf("invalid admin email %q", email)
	}

	config.InitDB()

	hashed, err := utils.HashPassword(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	var user models.User
	err = config.DB.Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			DisplayName: "Administrator",
			Email:       email,
			Password:    hashed,
			RoleID:      models.RoleAdmin,
		}
		if err := config.DB.Create(&user).Error; err != nil {
			log.Fatalf("failed to create admin: %v", err)
		}
		log.Printf("created admin %s", email)
	case err != nil:
		log.Fatalf("failed to look up admin: %v", err)
	default:
		updates := map[string]interface{}{
			"password":  hashed,
			"role_id":   models.RoleAdmin,
			"delete_at": nil,
		}
		if err := config.DB.Model(&user).Updates(updates).Error; err != nil {
			log.Fatalf("failed to update admin: %v", err)
		}
		log.Printf("updated admin %s", email)
	}
}
