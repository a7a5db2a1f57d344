// Package worker consumes job ids from Kafka and drives them through the
// lifecycle manager and the optimizer, off the request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"lotpix/internal/jobs"
	"lotpix/internal/logger"
	"lotpix/internal/optimizer"
)

// Message is the queue payload published at job creation.
type Message struct {
	JobID uuid.UUID `json:"job_id"`
	Force bool      `json:"force"`
}

type FeedCache interface {
	Flush(ctx context.Context) error
}

type Worker struct {
	reader  *kafka.Reader
	manager *jobs.Manager
	opt     *optimizer.Optimizer
	cache   FeedCache
	log     *zap.Logger
}

func New(reader *kafka.Reader, manager *jobs.Manager, opt *optimizer.Optimizer, cache FeedCache) *Worker {
	return &Worker{reader: reader, manager: manager, opt: opt, cache: cache, log: logger.L}
}

// Run consumes until ctx is canceled. A bad message is logged and dropped;
// the loop never dies on one job.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error("read message", zap.Error(err))
			continue
		}
		w.handle(ctx, msg.Value)
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		w.log.Error("bad job message", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	log := w.log.With(zap.String("job_id", m.JobID.String()))

	job, err := w.manager.Job(ctx, m.JobID)
	if err != nil {
		log.Error("load job", zap.Error(err))
		return
	}

	if err := w.manager.StartJob(ctx, job.ID); err != nil {
		if errors.Is(err, jobs.ErrInvalidState) {
			// Duplicate delivery or a concurrent worker won the start race.
			log.Info("job not queued, skipping")
			return
		}
		log.Error("start job", zap.Error(err))
		return
	}

	res, procErr := w.opt.ProcessJob(ctx, job, m.Force)
	if procErr != nil {
		if err := w.manager.FailJob(ctx, job.ID, procErr.Error()); err != nil {
			log.Error("fail job", zap.Error(err))
		}
		log.Error("job failed", zap.Error(procErr))
	} else {
		if err := w.manager.CompleteJob(ctx, job.ID); err != nil {
			log.Error("complete job", zap.Error(err))
			return
		}
		if len(res.Failures) > 0 {
			log.Warn("job completed with image failures",
				zap.Int("optimized", len(res.Optimized)),
				zap.Int("failed", len(res.Failures)))
		} else {
			log.Info("job completed",
				zap.Int("optimized", len(res.Optimized)),
				zap.Int("skipped", len(res.Skipped)))
		}
	}

	if err := w.cache.Flush(ctx); err != nil {
		log.Warn("flush feed cache", zap.Error(err))
	}
}
