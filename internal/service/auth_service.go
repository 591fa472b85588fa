package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
)

// ErrInvalidCredentials indicates the identifier or password did not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountExists indicates the identifier is already registered.
var ErrAccountExists = errors.New("account already registered")

// AuthService handles registration and login for both roles.
type AuthService interface {
	RegisterStudent(ctx context.Context, payload dto.StudentRegisterRequest) (dto.AuthResponse, error)
	LoginStudent(ctx context.Context, payload dto.StudentLoginRequest) (dto.AuthResponse, error)
	RegisterLecturer(ctx context.Context, payload dto.LecturerRegisterRequest) (dto.AuthResponse, error)
	LoginLecturer(ctx context.Context, payload dto.LecturerLoginRequest) (dto.AuthResponse, error)
}

// AuthConfig carries token issuing parameters.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type authService struct {
	students  repository.StudentRepository
	lecturers repository.LecturerRepository
	validator *validator.Validate
	config    AuthConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAuthService constructs the auth service.
func NewAuthService(students repository.StudentRepository, lecturers repository.LecturerRepository, validate *validator.Validate, cfg AuthConfig, logger zerolog.Logger) AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}

	return &authService{
		students:  students,
		lecturers: lecturers,
		validator: validate,
		config:    cfg,
		logger:    logger.With().Str("component", "auth_service").Logger(),
		now:       time.Now,
	}
}

func (s *authService) RegisterStudent(ctx context.Context, payload dto.StudentRegisterRequest) (dto.AuthResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AuthResponse{}, err
	}

	if _, err := s.students.GetByNIM(ctx, payload.NIM); err == nil {
		return dto.AuthResponse{}, ErrAccountExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return dto.AuthResponse{}, err
	}

	student := models.Student{Name: payload.Name, NIM: payload.NIM, Password: string(hash)}
	if err := s.students.Create(ctx, &student); err != nil {
		return dto.AuthResponse{}, err
	}

	s.logger.Info().Uint("student_id", student.ID).Msg("student registered")
	return s.issue(student.ID, "student", dto.NewStudentProfile(student))
}

func (s *authService) LoginStudent(ctx context.Context, payload dto.StudentLoginRequest) (dto.AuthResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AuthResponse{}, err
	}

	student, err := s.students.GetByNIM(ctx, payload.NIM)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(student.Password), []byte(payload.Password)) != nil {
		return dto.AuthResponse{}, ErrInvalidCredentials
	}

	return s.issue(student.ID, "student", dto.NewStudentProfile(student))
}

func (s *authService) RegisterLecturer(ctx context.Context, payload dto.LecturerRegisterRequest) (dto.AuthResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AuthResponse{}, err
	}

	if _, err := s.lecturers.GetByEmail(ctx, payload.Email); err == nil {
		return dto.AuthResponse{}, ErrAccountExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return dto.AuthResponse{}, err
	}

	lecturer := models.Lecturer{Name: payload.Name, Email: payload.Email, Password: string(hash)}
	if err := s.lecturers.Create(ctx, &lecturer); err != nil {
		return dto.AuthResponse{}, err
	}

	s.logger.Info().Uint("lecturer_id", lecturer.ID).Msg("lecturer registered")
	return s.issue(lecturer.ID, "lecturer", dto.NewLecturerProfile(lecturer))
}

func (s *authService) LoginLecturer(ctx context.Context, payload dto.LecturerLoginRequest) (dto.AuthResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AuthResponse{}, err
	}

	lecturer, err := s.lecturers.GetByEmail(ctx, payload.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(lecturer.Password), []byte(payload.Password)) != nil {
		return dto.AuthResponse{}, ErrInvalidCredentials
	}

	return s.issue(lecturer.ID, "lecturer", dto.NewLecturerProfile(lecturer))
}

func (s *authService) issue(subject uint, role string, profile dto.UserProfile) (dto.AuthResponse, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"name": profile.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(s.config.TokenTTL).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return dto.AuthResponse{}, err
	}

	return dto.AuthResponse{Token: token, User: profile}, nil
}
