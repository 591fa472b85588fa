package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/models"
)

// LecturerRepository provides access to lecturer accounts.
type LecturerRepository interface {
	GetByID(ctx context.Context, id uint) (models.Lecturer, error)
	GetByEmail(ctx context.Context, email string) (models.Lecturer, error)
	Create(ctx context.Context, lecturer *models.Lecturer) error
}

type lecturerRepository struct {
	db *gorm.DB
}

// NewLecturerRepository constructs a lecturer repository.
func NewLecturerRepository(db *gorm.DB) LecturerRepository {
	return &lecturerRepository{db: db}
}

func (r *lecturerRepository) GetByID(ctx context.Context, id uint) (models.Lecturer, error) {
	var lecturer models.Lecturer
	if err := r.db.WithContext(ctx).First(&lecturer, id).Error; err != nil {
		return models.Lecturer{}, err
	}

	return lecturer, nil
}

func (r *lecturerRepository) GetByEmail(ctx context.Context, email string) (models.Lecturer, error) {
	var lecturer models.Lecturer
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&lecturer).Error; err != nil {
		return models.Lecturer{}, err
	}

	return lecturer, nil
}

func (r *lecturerRepository) Create(ctx context.Context, lecturer *models.Lecturer) error {
	return r.db.WithContext(ctx).Create(lecturer).Error
}
