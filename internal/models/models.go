package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageType classifies a vehicle photo. The six key types are the angles the
// inventory consumer requires; gallery types are extra shots that never enter
// the feed.
type ImageType string

const (
	ImageTypeFrontQuarter  ImageType = "FRONT_QUARTER"
	ImageTypeFront         ImageType = "FRONT"
	ImageTypeBackQuarter   ImageType = "BACK_QUARTER"
	ImageTypeBack          ImageType = "BACK"
	ImageTypeDriverSide    ImageType = "DRIVER_SIDE"
	ImageTypePassengerSide ImageType = "PASSENGER_SIDE"

	ImageTypeGallery         ImageType = "GALLERY"
	ImageTypeGalleryExterior ImageType = "GALLERY_EXTERIOR"
	ImageTypeGalleryInterior ImageType = "GALLERY_INTERIOR"
)

// KeyImageTypes lists the key types in the consumer's canonical order. Feed
// ties on sort_order are broken by position in this slice.
var KeyImageTypes = []ImageType{
	ImageTypeFrontQuarter,
	ImageTypeFront,
	ImageTypeBackQuarter,
	ImageTypeBack,
	ImageTypeDriverSide,
	ImageTypePassengerSide,
}

var keyTypeRank = func() map[ImageType]int {
	m := make(map[ImageType]int, len(KeyImageTypes))
	for i, t := range KeyImageTypes {
		m[t] = i
	}
	return m
}()

// IsKey reports whether t is one of the six consumer-required angle types.
func (t ImageType) IsKey() bool {
	_, ok := keyTypeRank[t]
	return ok
}

// Rank returns t's position in the canonical key-type order. Gallery types
// sort after every key type.
func (t ImageType) Rank() int {
	if r, ok := keyTypeRank[t]; ok {
		return r
	}
	return len(KeyImageTypes)
}

func (t ImageType) Valid() bool {
	switch t {
	case ImageTypeFrontQuarter, ImageTypeFront, ImageTypeBackQuarter,
		ImageTypeBack, ImageTypeDriverSide, ImageTypePassengerSide,
		ImageTypeGallery, ImageTypeGalleryExterior, ImageTypeGalleryInterior:
		return true
	}
	return false
}

// JobStatus is the processing-job lifecycle state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ProcessingStatus is the vehicle-level aggregate derived from its jobs.
type ProcessingStatus string

const (
	ProcessingNotStarted ProcessingStatus = "not_started"
	ProcessingInProgress ProcessingStatus = "in_progress"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingError      ProcessingStatus = "error"
)

type Vehicle struct {
	ID          uuid.UUID `db:"id" json:"id"`
	StockNumber string    `db:"stock_number" json:"stock_number"`
	VIN         string    `db:"vin" json:"vin"`
	StoreID     uuid.UUID `db:"store_id" json:"store_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type VehicleImage struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	VehicleID    uuid.UUID  `db:"vehicle_id" json:"vehicle_id"`
	OriginalURL  string     `db:"original_url" json:"original_url"`
	OptimizedURL *string    `db:"optimized_url" json:"optimized_url,omitempty"`
	ThumbnailURL *string    `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	ImageType    ImageType  `db:"image_type" json:"image_type"`
	SortOrder    int        `db:"sort_order" json:"sort_order"`
	IsOptimized  bool       `db:"is_optimized" json:"is_optimized"`
	ProcessedAt  *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FeedVehicle is one feed row's worth of state: a vehicle plus its optimized
// key images, as read in a single snapshot.
type FeedVehicle struct {
	VIN         string
	StockNumber string
	Images      []VehicleImage
}

// ProcessingJob is immutable after creation except for Status, ErrorMessage
// and CompletedAt. Jobs are retained after they finish; only operator tooling
// prunes history.
type ProcessingJob struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	VehicleID    uuid.UUID   `db:"vehicle_id" json:"vehicle_id"`
	ImageIDs     []uuid.UUID `db:"image_ids" json:"image_ids"`
	Status       JobStatus   `db:"status" json:"status"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}
