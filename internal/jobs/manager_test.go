package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpix/internal/models"
)

type fakeStore struct {
	images map[uuid.UUID][]models.VehicleImage
	jobs   map[uuid.UUID]*models.ProcessingJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		images: make(map[uuid.UUID][]models.VehicleImage),
		jobs:   make(map[uuid.UUID]*models.ProcessingJob),
	}
}

func (s *fakeStore) ListImagesByVehicle(_ context.Context, vehicleID uuid.UUID) ([]models.VehicleImage, error) {
	return s.images[vehicleID], nil
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.ProcessingJob) error {
	job.CreatedAt = time.Now()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) ListJobsByVehicle(_ context.Context, vehicleID uuid.UUID) ([]models.ProcessingJob, error) {
	var out []models.ProcessingJob
	for _, j := range s.jobs {
		if j.VehicleID == vehicleID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionJob(_ context.Context, id uuid.UUID, from, to models.JobStatus, errorMessage *string, completedAt *time.Time) (bool, error) {
	job, ok := s.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	job.ErrorMessage = errorMessage
	job.CompletedAt = completedAt
	return true, nil
}

func (s *fakeStore) addImages(vehicleID uuid.UUID, n int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		img := models.VehicleImage{
			ID:        uuid.New(),
			VehicleID: vehicleID,
			ImageType: models.KeyImageTypes[i%len(models.KeyImageTypes)],
			SortOrder: i,
		}
		s.images[vehicleID] = append(s.images[vehicleID], img)
		ids = append(ids, img.ID)
	}
	return ids
}

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := NewManager(store)

	vehicleID := uuid.New()
	ids := store.addImages(vehicleID, 3)

	t.Run("empty image set", func(t *testing.T) {
		_, err := m.CreateJob(ctx, vehicleID, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("image from another vehicle", func(t *testing.T) {
		_, err := m.CreateJob(ctx, vehicleID, []uuid.UUID{uuid.New()})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("ok", func(t *testing.T) {
		job, err := m.CreateJob(ctx, vehicleID, ids)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, job.Status)
		assert.Equal(t, ids, job.ImageIDs)

		stored, err := m.Job(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobQueued, stored.Status)
	})
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()

	newJob := func(t *testing.T) (*Manager, *fakeStore, uuid.UUID) {
		t.Helper()
		store := newFakeStore()
		m := NewManager(store)
		vehicleID := uuid.New()
		ids := store.addImages(vehicleID, 1)
		job, err := m.CreateJob(ctx, vehicleID, ids)
		require.NoError(t, err)
		return m, store, job.ID
	}

	t.Run("queued to processing to completed", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		require.NoError(t, m.CompleteJob(ctx, id))

		job := store.jobs[id]
		assert.Equal(t, models.JobCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.Nil(t, job.ErrorMessage)
	})

	t.Run("queued to processing to failed", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		require.NoError(t, m.FailJob(ctx, id, "optimizer exploded"))

		job := store.jobs[id]
		assert.Equal(t, models.JobFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "optimizer exploded", *job.ErrorMessage)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("double start", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		err := m.StartJob(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, models.JobProcessing, store.jobs[id].Status)
	})

	t.Run("cannot skip processing", func(t *testing.T) {
		m, store, id := newJob(t)
		assert.ErrorIs(t, m.CompleteJob(ctx, id), ErrInvalidState)
		assert.ErrorIs(t, m.FailJob(ctx, id, "boom"), ErrInvalidState)
		assert.Equal(t, models.JobQueued, store.jobs[id].Status)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		require.NoError(t, m.CompleteJob(ctx, id))

		assert.ErrorIs(t, m.StartJob(ctx, id), ErrInvalidState)
		assert.ErrorIs(t, m.CompleteJob(ctx, id), ErrInvalidState)
		assert.ErrorIs(t, m.FailJob(ctx, id, "late"), ErrInvalidState)
		assert.Equal(t, models.JobCompleted, store.jobs[id].Status)
	})

	t.Run("error message is bounded", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		require.NoError(t, m.FailJob(ctx, id, strings.Repeat("x", 2000)))
		assert.Len(t, *store.jobs[id].ErrorMessage, 500)
	})

	t.Run("failed without message gets a default", func(t *testing.T) {
		m, store, id := newJob(t)
		require.NoError(t, m.StartJob(ctx, id))
		require.NoError(t, m.FailJob(ctx, id, ""))
		require.NotNil(t, store.jobs[id].ErrorMessage)
		assert.NotEmpty(t, *store.jobs[id].ErrorMessage)
	})
}

func TestDeriveStatus(t *testing.T) {
	at := func(min int) time.Time {
		return time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC)
	}
	job := func(status models.JobStatus, min int) models.ProcessingJob {
		return models.ProcessingJob{ID: uuid.New(), Status: status, CreatedAt: at(min)}
	}

	tests := []struct {
		name string
		jobs []models.ProcessingJob
		want models.ProcessingStatus
	}{
		{"no jobs", nil, models.ProcessingNotStarted},
		{"queued job", []models.ProcessingJob{job(models.JobQueued, 0)}, models.ProcessingInProgress},
		{"processing job", []models.ProcessingJob{job(models.JobProcessing, 0)}, models.ProcessingInProgress},
		{"completed job", []models.ProcessingJob{job(models.JobCompleted, 0)}, models.ProcessingCompleted},
		{"failed job", []models.ProcessingJob{job(models.JobFailed, 0)}, models.ProcessingError},
		{
			"failure superseded by newer success",
			[]models.ProcessingJob{job(models.JobFailed, 0), job(models.JobCompleted, 5)},
			models.ProcessingCompleted,
		},
		{
			"success superseded by newer failure",
			[]models.ProcessingJob{job(models.JobCompleted, 0), job(models.JobFailed, 5)},
			models.ProcessingError,
		},
		{
			"failure with retry in flight",
			[]models.ProcessingJob{job(models.JobFailed, 0), job(models.JobQueued, 5)},
			models.ProcessingInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.jobs))
		})
	}
}
