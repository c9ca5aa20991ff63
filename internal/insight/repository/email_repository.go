package repository

import (
	insightdomain "safe-backend/internal/insight/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// emailRepository implements EmailRepository interface
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{
		db: db,
	}
}

func (r *emailRepository) BulkInsert(emails []*insightdomain.Email) error {
	if len(emails) == 0 {
		return nil
	}
	// ON CONFLICT DO NOTHING keeps the insert idempotent so concurrent syncs
	// for the same scope cannot clobber each other.
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(emails, 200).Error
}

func (r *emailRepository) DeleteByIDs(userID, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("user_id = ? AND project_id = ? AND id IN ?", userID, projectID, ids).
		Delete(&insightdomain.Email{}).Error
}

func (r *emailRepository) FindByUserAndProject(userID, projectID string, limit int) ([]*insightdomain.Email, error) {
	var emails []*insightdomain.Email
	err := r.db.Where("user_id = ? AND project_id = ?", userID, projectID).
		Order("received_at DESC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

func (r *emailRepository) CountByUserAndProject(userID, projectID string) (int64, error) {
	var count int64
	err := r.db.Model(&insightdomain.Email{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Count(&count).Error
	return count, err
}

func (r *emailRepository) ListProjectIDs(userID string) ([]string, error) {
	var projectIDs []string
	err := r.db.Model(&insightdomain.Email{}).
		Where("user_id = ?", userID).
		Distinct().
		Pluck("project_id", &projectIDs).Error
	return projectIDs, err
}
