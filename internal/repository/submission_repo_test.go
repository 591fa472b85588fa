package repository_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.Lecturer{},
		&models.Question{},
		&models.Submission{},
	))

	return db
}

func seedStudentAndQuestion(t *testing.T, db *gorm.DB) (models.Student, models.Question) {
	t.Helper()

	lecturer := models.Lecturer{Name: "Dosen", Email: "dosen@example.ac.id", Password: "hash"}
	require.NoError(t, db.Create(&lecturer).Error)

	student := models.Student{Name: "Ada", NIM: "2211001", Password: "hash"}
	require.NoError(t, db.Create(&student).Error)

	question := models.Question{
		LecturerID:  lecturer.ID,
		Title:       "Sum of two numbers",
		Description: "Read two numbers and print their sum.",
		TestCases:   datatypes.JSON("[]"),
	}
	require.NoError(t, db.Create(&question).Error)

	return student, question
}

func TestSubmissionRepositoryCreateAndFetch(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewSubmissionRepository(db)
	ctx := context.Background()

	student, question := seedStudentAndQuestion(t, db)

	duration := 95
	submission := models.Submission{
		StudentID:       student.ID,
		QuestionID:      question.ID,
		Code:            "print(1 + 2)",
		Status:          models.SubmissionStatusPassed,
		DurationSeconds: &duration,
		TabSwitchCount:  2,
	}
	require.NoError(t, repo.Create(ctx, &submission))
	require.NotZero(t, submission.ID)

	fetched, err := repo.GetByStudentAndQuestion(ctx, student.ID, question.ID)
	require.NoError(t, err)
	require.Equal(t, submission.ID, fetched.ID)
	require.Equal(t, "Ada", fetched.Student.Name)
	require.Equal(t, "Sum of two numbers", fetched.Question.Title)
	require.True(t, fetched.Passed())
}

func TestSubmissionRepositoryGetByStudentAndQuestionMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewSubmissionRepository(db)

	student, question := seedStudentAndQuestion(t, db)

	_, err := repo.GetByStudentAndQuestion(context.Background(), student.ID, question.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubmissionRepositoryListFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewSubmissionRepository(db)
	ctx := context.Background()

	student, question := seedStudentAndQuestion(t, db)

	other := models.Student{Name: "Budi", NIM: "2211002", Password: "hash"}
	require.NoError(t, db.Create(&other).Error)

	require.NoError(t, repo.Create(ctx, &models.Submission{
		StudentID: student.ID, QuestionID: question.ID, Code: "a", Status: models.SubmissionStatusPassed,
	}))
	require.NoError(t, repo.Create(ctx, &models.Submission{
		StudentID: other.ID, QuestionID: question.ID, Code: "b", Status: models.SubmissionStatusFailed,
	}))

	all, err := repo.List(ctx, repository.SubmissionFilter{QuestionID: &question.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)

	status := models.SubmissionStatusFailed
	failed, err := repo.List(ctx, repository.SubmissionFilter{QuestionID: &question.ID, Status: &status})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, other.ID, failed[0].StudentID)
}
