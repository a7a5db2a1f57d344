// Package jobs owns the processing-job lifecycle: creation, the
// queued→processing→{completed,failed} state machine, and the vehicle-level
// status derived from job history.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"lotpix/internal/models"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
)

// Failure messages are bounded so a runaway error string cannot bloat the row.
const maxErrorMessageLen = 500

type Store interface {
	ListImagesByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]models.VehicleImage, error)
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	ListJobsByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]models.ProcessingJob, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, errorMessage *string, completedAt *time.Time) (bool, error)
}

type Manager struct {
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// CreateJob records a new queued job for the given vehicle and image set.
// Every image id must belong to the vehicle and the set must be non-empty.
//
// Callers must not enqueue a job whose image set overlaps a job still in
// flight for the same vehicle; the state machine guards double-starting a
// single job id, not overlapping jobs.
func (m *Manager) CreateJob(ctx context.Context, vehicleID uuid.UUID, imageIDs []uuid.UUID) (*models.ProcessingJob, error) {
	const op = "jobs.CreateJob"

	if len(imageIDs) == 0 {
		return nil, fmt.Errorf("%s: empty image set: %w", op, ErrInvalidInput)
	}

	imgs, err := m.store.ListImagesByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	owned := make(map[uuid.UUID]bool, len(imgs))
	for _, img := range imgs {
		owned[img.ID] = true
	}
	for _, id := range imageIDs {
		if !owned[id] {
			return nil, fmt.Errorf("%s: image %s does not belong to vehicle %s: %w", op, id, vehicleID, ErrInvalidInput)
		}
	}

	job := &models.ProcessingJob{
		ID:        uuid.New(),
		VehicleID: vehicleID,
		ImageIDs:  imageIDs,
		Status:    models.JobQueued,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (m *Manager) Job(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	return m.store.GetJob(ctx, id)
}

// StartJob transitions queued→processing. The conditional update means at
// most one worker wins; every other caller gets ErrInvalidState.
func (m *Manager) StartJob(ctx context.Context, id uuid.UUID) error {
	const op = "jobs.StartJob"
	ok, err := m.store.TransitionJob(ctx, id, models.JobQueued, models.JobProcessing, nil, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: job %s is not queued: %w", op, id, ErrInvalidState)
	}
	return nil
}

// CompleteJob transitions processing→completed.
func (m *Manager) CompleteJob(ctx context.Context, id uuid.UUID) error {
	const op = "jobs.CompleteJob"
	now := m.now()
	ok, err := m.store.TransitionJob(ctx, id, models.JobProcessing, models.JobCompleted, nil, &now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: job %s is not processing: %w", op, id, ErrInvalidState)
	}
	return nil
}

// FailJob transitions processing→failed and records the failure reason.
func (m *Manager) FailJob(ctx context.Context, id uuid.UUID, errorMessage string) error {
	const op = "jobs.FailJob"
	if errorMessage == "" {
		errorMessage = "processing failed"
	}
	if len(errorMessage) > maxErrorMessageLen {
		errorMessage = errorMessage[:maxErrorMessageLen]
	}
	now := m.now()
	ok, err := m.store.TransitionJob(ctx, id, models.JobProcessing, models.JobFailed, &errorMessage, &now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: job %s is not processing: %w", op, id, ErrInvalidState)
	}
	return nil
}

// VehicleStatus derives the vehicle's aggregate processing status from its
// job history. The status is never stored, so it cannot drift from the jobs.
func (m *Manager) VehicleStatus(ctx context.Context, vehicleID uuid.UUID) (models.ProcessingStatus, error) {
	const op = "jobs.VehicleStatus"
	jobList, err := m.store.ListJobsByVehicle(ctx, vehicleID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return DeriveStatus(jobList), nil
}

// DeriveStatus computes the aggregate status for a set of jobs belonging to
// one vehicle: in_progress while anything is queued or processing, error when
// the most recent terminal job failed, completed otherwise.
func DeriveStatus(jobList []models.ProcessingJob) models.ProcessingStatus {
	if len(jobList) == 0 {
		return models.ProcessingNotStarted
	}

	sorted := make([]models.ProcessingJob, len(jobList))
	copy(sorted, jobList)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	for _, j := range sorted {
		if !j.Status.Terminal() {
			return models.ProcessingInProgress
		}
	}
	if sorted[0].Status == models.JobFailed {
		return models.ProcessingError
	}
	return models.ProcessingCompleted
}
