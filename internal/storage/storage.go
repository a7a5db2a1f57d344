package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"lotpix/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- vehicles ---

func (s *Storage) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	const op = "storage.CreateVehicle"
	err := s.pool.QueryRow(ctx,
		`INSERT INTO vehicles (id, stock_number, vin, store_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		v.ID, v.StockNumber, v.VIN, v.StoreID,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	const op = "storage.GetVehicle"
	var v models.Vehicle
	err := s.pool.QueryRow(ctx,
		`SELECT id, stock_number, vin, store_id, created_at, updated_at
		 FROM vehicles WHERE id = $1`, id,
	).Scan(&v.ID, &v.StockNumber, &v.VIN, &v.StoreID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &v, nil
}

// --- vehicle images ---

func (s *Storage) CreateImage(ctx context.Context, img *models.VehicleImage) error {
	const op = "storage.CreateImage"
	err := s.pool.QueryRow(ctx,
		`INSERT INTO vehicle_images (id, vehicle_id, original_url, image_type, sort_order)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		img.ID, img.VehicleID, img.OriginalURL, img.ImageType, img.SortOrder,
	).Scan(&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetImage(ctx context.Context, id uuid.UUID) (*models.VehicleImage, error) {
	const op = "storage.GetImage"
	img, err := scanImage(s.pool.QueryRow(ctx, imageColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

func (s *Storage) ListImagesByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]models.VehicleImage, error) {
	const op = "storage.ListImagesByVehicle"
	rows, err := s.pool.Query(ctx,
		imageColumns+` WHERE vehicle_id = $1 ORDER BY sort_order, image_type`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var imgs []models.VehicleImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		imgs = append(imgs, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return imgs, nil
}

// UpdateImageOptimized records a successful optimization in a single UPDATE
// so the optimized fields are never observable half-written. updated_at is
// kept monotonically non-decreasing; it is the feed's cache-busting token.
func (s *Storage) UpdateImageOptimized(ctx context.Context, id uuid.UUID, optimizedURL, thumbnailURL string, processedAt time.Time) error {
	const op = "storage.UpdateImageOptimized"
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicle_images
		 SET optimized_url = $2,
		     thumbnail_url = $3,
		     is_optimized = true,
		     processed_at = $4,
		     updated_at = GREATEST(now(), updated_at)
		 WHERE id = $1`,
		id, optimizedURL, thumbnailURL, processedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

const imageColumns = `SELECT id, vehicle_id, original_url, optimized_url, thumbnail_url,
	image_type, sort_order, is_optimized, processed_at, created_at, updated_at
	FROM vehicle_images`

func scanImage(row pgx.Row) (*models.VehicleImage, error) {
	var img models.VehicleImage
	err := row.Scan(&img.ID, &img.VehicleID, &img.OriginalURL, &img.OptimizedURL,
		&img.ThumbnailURL, &img.ImageType, &img.SortOrder, &img.IsOptimized,
		&img.ProcessedAt, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// --- processing jobs ---

func (s *Storage) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	const op = "storage.CreateJob"
	err := s.pool.QueryRow(ctx,
		`INSERT INTO processing_jobs (id, vehicle_id, image_ids, status)
		 VALUES ($1, $2, $3::uuid[], $4)
		 RETURNING created_at`,
		job.ID, job.VehicleID, uuidStrings(job.ImageIDs), job.Status,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	const op = "storage.GetJob"
	job, err := scanJob(s.pool.QueryRow(ctx, jobColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (s *Storage) ListJobsByVehicle(ctx context.Context, vehicleID uuid.UUID) ([]models.ProcessingJob, error) {
	const op = "storage.ListJobsByVehicle"
	rows, err := s.pool.Query(ctx,
		jobColumns+` WHERE vehicle_id = $1 ORDER BY created_at DESC`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var jobs []models.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

// TransitionJob moves a job from one status to another with a conditional
// UPDATE. It reports false when the job was not in the expected status, which
// is how concurrent workers lose the race to start the same job.
func (s *Storage) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, errorMessage *string, completedAt *time.Time) (bool, error) {
	const op = "storage.TransitionJob"
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $3, error_message = $4, completed_at = $5
		 WHERE id = $1 AND status = $2`,
		id, from, to, errorMessage, completedAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

const jobColumns = `SELECT id, vehicle_id, image_ids::text[], status, error_message, created_at, completed_at
	FROM processing_jobs`

func scanJob(row pgx.Row) (*models.ProcessingJob, error) {
	var (
		job models.ProcessingJob
		ids []string
	)
	err := row.Scan(&job.ID, &job.VehicleID, &ids, &job.Status,
		&job.ErrorMessage, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.ImageIDs = make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		job.ImageIDs = append(job.ImageIDs, id)
	}
	return &job, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// --- feed snapshot ---

// FeedSnapshot reads every vehicle that has at least one optimized key image,
// with those images, inside one repeatable-read transaction so a single feed
// never mixes two points in time. Vehicles come back ordered by VIN.
func (s *Storage) FeedSnapshot(ctx context.Context) ([]models.FeedVehicle, error) {
	const op = "storage.FeedSnapshot"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	keyTypes := make([]string, len(models.KeyImageTypes))
	for i, t := range models.KeyImageTypes {
		keyTypes[i] = string(t)
	}

	// Secondary order on v.id keeps rows grouped even if two stores carry
	// the same VIN.
	rows, err := tx.Query(ctx,
		`SELECT v.id, v.vin, v.stock_number,
		        i.id, i.vehicle_id, i.original_url, i.optimized_url, i.thumbnail_url,
		        i.image_type, i.sort_order, i.is_optimized, i.processed_at, i.created_at, i.updated_at
		 FROM vehicles v
		 JOIN vehicle_images i ON i.vehicle_id = v.id
		 WHERE i.is_optimized = true AND i.image_type = ANY($1)
		 ORDER BY v.vin, v.id`, keyTypes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var (
		out    []models.FeedVehicle
		last   *models.FeedVehicle
		lastID uuid.UUID
	)
	for rows.Next() {
		var (
			vehicleID  uuid.UUID
			vin, stock string
			img        models.VehicleImage
		)
		err := rows.Scan(&vehicleID, &vin, &stock,
			&img.ID, &img.VehicleID, &img.OriginalURL, &img.OptimizedURL, &img.ThumbnailURL,
			&img.ImageType, &img.SortOrder, &img.IsOptimized, &img.ProcessedAt, &img.CreatedAt, &img.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if last == nil || lastID != vehicleID {
			out = append(out, models.FeedVehicle{VIN: vin, StockNumber: stock})
			last = &out[len(out)-1]
			lastID = vehicleID
		}
		last.Images = append(last.Images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
