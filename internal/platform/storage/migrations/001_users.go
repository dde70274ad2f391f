package migrations

import (
	"gorm.io/gorm"
)

// Migration001Users creates the user directory read by the token endpoints.
type Migration001Users struct{}

func (m *Migration001Users) Version() string {
	return "001_users"
}

func (m *Migration001Users) Description() string {
	return "Create users table"
}

func (m *Migration001Users) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			gender INTEGER NOT NULL DEFAULT 0,
			department VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			verification_code VARCHAR(64),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`).Error
}

func (m *Migration001Users) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS users`).Error
}
