package database

import (
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// SeedUsers creates the first school admin on an empty database.
// Credentials come from SEED_ADMIN_EMAIL / SEED_ADMIN_PASSWORD.
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	email := os.Getenv("SEED_ADMIN_EMAIL")
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Println("⚠️  SEED_ADMIN_EMAIL/SEED_ADMIN_PASSWORD not set, skipping admin seed")
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := map[string]interface{}{
		"id":       uuid.New().String(),
		"email":    email,
		"password": string(hashed),
		"name":     "School Admin",
		"role":     "admin",
	}

	query := `
		INSERT INTO users (id, email, password, name, role)
		VALUES (:id, :email, :password, :name, :role)
	`
	if _, err := db.NamedExec(query, user); err != nil {
		return err
	}

	log.Printf("✓ Seeded admin user: %s", email)
	return nil
}
