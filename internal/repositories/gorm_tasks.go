package repositories

import (
	"context"
	"errors"
	"fmt"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type GormTaskRepository struct {
	db *gorm.DB
}

func NewGormTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

func (r *GormTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *GormTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("task")
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (r *GormTaskRepository) Update(ctx context.Context, task *models.Task) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", task.ID).
		Select("*").
		Omit("id", "created_at", "assigned_to", "assigned_by").
		Updates(task)
	if result.Error != nil {
		return fmt.Errorf("update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("task")
	}
	return nil
}

func (r *GormTaskRepository) ListByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("assigned_to = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) ListAll(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Order("deadline DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list all tasks: %w", err)
	}
	return tasks, nil
}

func (r *GormTaskRepository) CountOpenByAssignee(ctx context.Context) (map[uuid.UUID]int64, error) {
	var rows []struct {
		AssignedTo uuid.UUID
		Total      int64
	}
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Select("assigned_to, COUNT(*) AS total").
		Where("status <> ?", models.StatusCompleted).
		Group("assigned_to").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count open tasks: %w", err)
	}

	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		counts[row.AssignedTo] = row.Total
	}
	return counts, nil
}
