package storage

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/errors"
)

// User is the gorm model behind user.Repository.
type User struct {
	ID               string  `gorm:"primaryKey;type:varchar(64)"`
	Name             string  `gorm:"not null"`
	DisplayName      *string
	Gender           int     `gorm:"not null;default:0"`
	Department       string  `gorm:"not null"`
	Email            string  `gorm:"uniqueIndex;not null"`
	PasswordHash     string  `gorm:"not null"`
	VerificationCode *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (User) TableName() string { return "users" }

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a gorm backed user.Repository.
func NewUserRepository(db *gorm.DB) user.Repository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*user.Account, error) {
	var model User
	err := r.db.WithContext(ctx).Where("email = ?", user.NormalizeEmail(email)).First(&model).Error
	if err != nil {
		return nil, r.lookupError("user.find_by_email", err)
	}
	return r.fromModel(&model), nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*user.Account, error) {
	var model User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, r.lookupError("user.find_by_id", err)
	}
	return r.fromModel(&model), nil
}

// Create stores account, assigning an id when it has none.
func (r *userRepository) Create(ctx context.Context, account *user.Account) error {
	if account == nil {
		return errors.New(errors.KindValidation, "user.create", "account is required")
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	model := r.toModel(account)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrap(errors.KindConflict, "user.create", "email is already registered", err)
		}
		return errors.Wrap(errors.KindStorage, "user.create", "failed to save user", err)
	}
	return nil
}

func (r *userRepository) lookupError(op string, err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(errors.KindNotFound, op, "user not found", user.ErrNotFound)
	}
	return errors.Wrap(errors.KindStorage, op, "failed to find user", err)
}

func (r *userRepository) toModel(a *user.Account) *User {
	return &User{
		ID:               a.ID,
		Name:             a.Name,
		DisplayName:      a.DisplayName,
		Gender:           int(a.Gender),
		Department:       a.Department,
		Email:            user.NormalizeEmail(a.Email),
		PasswordHash:     a.PasswordHash,
		VerificationCode: a.VerificationCode,
	}
}

func (r *userRepository) fromModel(m *User) *user.Account {
	return &user.Account{
		Profile: user.Profile{
			ID:          m.ID,
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Gender:      user.Gender(m.Gender),
			Department:  m.Department,
			Email:       m.Email,
		},
		PasswordHash:     m.PasswordHash,
		VerificationCode: m.VerificationCode,
	}
}
