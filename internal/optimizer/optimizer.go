// Package optimizer turns a processing job's raw uploads into consumer-ready
// assets via the transformation service.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lotpix/internal/logger"
	"lotpix/internal/models"
)

// ErrUnreachable means the transformation dependency itself is unavailable.
// It aborts the whole job; per-image failures do not.
var ErrUnreachable = errors.New("transformation service unreachable")

type Store interface {
	GetImage(ctx context.Context, id uuid.UUID) (*models.VehicleImage, error)
	UpdateImageOptimized(ctx context.Context, id uuid.UUID, optimizedURL, thumbnailURL string, processedAt time.Time) error
}

// Transformer is the single call this package makes against the
// transformation service: source in, destination assets out. Latency and
// internal retry policy belong to the implementation.
type Transformer interface {
	Transform(ctx context.Context, originalURL, target string) (TransformOutput, error)
}

type TransformOutput struct {
	OptimizedURL string
	ThumbnailURL string
}

type ImageFailure struct {
	ImageID uuid.UUID
	Reason  string
}

// Result tallies one ProcessJob run. A fatal abort is reported through the
// error return, not here.
type Result struct {
	Optimized []uuid.UUID
	Skipped   []uuid.UUID
	Failures  []ImageFailure
}

// PartialSuccess reports whether some images failed while others went
// through. The job still completes; is_optimized staying false on the failed
// rows is the operator's reprocessing signal.
func (r Result) PartialSuccess() bool {
	return len(r.Failures) > 0 && len(r.Failures) < r.total()
}

func (r Result) total() int {
	return len(r.Optimized) + len(r.Skipped) + len(r.Failures)
}

type Optimizer struct {
	store Store
	tr    Transformer
	now   func() time.Time
	log   *zap.Logger
}

func New(store Store, tr Transformer) *Optimizer {
	return &Optimizer{store: store, tr: tr, now: time.Now, log: logger.L}
}

// TargetName derives the transformation destination from the owning vehicle
// and the image's role. Reprocessing the same image therefore overwrites the
// same asset instead of orphaning a new one.
func TargetName(vehicleID uuid.UUID, t models.ImageType) string {
	return fmt.Sprintf("%s/%s.jpg", vehicleID, strings.ToLower(string(t)))
}

// ProcessJob walks the job's images in list order. Gallery images are never
// sent to the transformation call; already-optimized images are left alone
// unless force is set. A non-nil error means the transformation service was
// unreachable and the remaining images were left untouched.
func (o *Optimizer) ProcessJob(ctx context.Context, job *models.ProcessingJob, force bool) (Result, error) {
	const op = "optimizer.ProcessJob"

	var res Result
	for _, imageID := range job.ImageIDs {
		img, err := o.store.GetImage(ctx, imageID)
		if err != nil {
			res.Failures = append(res.Failures, ImageFailure{ImageID: imageID, Reason: err.Error()})
			continue
		}

		if !img.ImageType.IsKey() {
			res.Skipped = append(res.Skipped, imageID)
			continue
		}
		if img.IsOptimized && !force {
			res.Skipped = append(res.Skipped, imageID)
			continue
		}

		out, err := o.tr.Transform(ctx, img.OriginalURL, TargetName(job.VehicleID, img.ImageType))
		if err != nil {
			if errors.Is(err, ErrUnreachable) {
				return res, fmt.Errorf("%s: %w", op, err)
			}
			o.log.Warn("image transformation failed",
				zap.String("job_id", job.ID.String()),
				zap.String("image_id", imageID.String()),
				zap.Error(err))
			res.Failures = append(res.Failures, ImageFailure{ImageID: imageID, Reason: err.Error()})
			continue
		}

		if err := o.store.UpdateImageOptimized(ctx, imageID, out.OptimizedURL, out.ThumbnailURL, o.now()); err != nil {
			res.Failures = append(res.Failures, ImageFailure{ImageID: imageID, Reason: err.Error()})
			continue
		}
		res.Optimized = append(res.Optimized, imageID)
	}
	return res, nil
}
