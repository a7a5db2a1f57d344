package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"lotpix/internal/auth"
	"lotpix/internal/cache"
	"lotpix/internal/feed"
	"lotpix/internal/jobs"
	"lotpix/internal/models"
	"lotpix/internal/storage"
	"lotpix/internal/worker"
)

type Server struct {
	cfg       *models.Config
	router    *gin.Engine
	db        *storage.Storage
	producer  *kafka.Writer
	manager   *jobs.Manager
	generator *feed.Generator
	feedCache *cache.Cache
	authn     *auth.Authenticator
	validate  *validator.Validate
}

func NewServer(cfg *models.Config, db *storage.Storage, producer *kafka.Writer,
	manager *jobs.Manager, generator *feed.Generator, feedCache *cache.Cache) *Server {

	r := gin.Default()
	r.Static("/files", cfg.StoragePath)

	s := &Server{
		cfg:       cfg,
		router:    r,
		db:        db,
		producer:  producer,
		manager:   manager,
		generator: generator,
		feedCache: feedCache,
		authn:     auth.New(cfg.FeedAPIKey),
		validate:  models.NewValidator(),
	}

	api := r.Group("/api")
	api.POST("/vehicles", s.handleCreateVehicle)
	api.GET("/vehicles/:id", s.handleGetVehicle)
	api.GET("/vehicles/:id/jobs", s.handleListJobs)
	api.POST("/vehicles/:id/images", s.handleUploadImage)
	api.POST("/vehicles/:id/process", s.handleProcess)
	api.GET("/jobs/:id", s.handleGetJob)

	r.GET("/feed/inventory.csv", s.handleFeed)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

type createVehicleRequest struct {
	StockNumber string `json:"stock_number" validate:"required,stocknum"`
	VIN         string `json:"vin" validate:"required,vin"`
	StoreID     string `json:"store_id" validate:"required,uuid"`
}

func (s *Server) handleCreateVehicle(c *gin.Context) {
	const op = "server.handleCreateVehicle"

	var req createVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := &models.Vehicle{
		ID:          uuid.New(),
		StockNumber: req.StockNumber,
		VIN:         req.VIN,
		StoreID:     uuid.MustParse(req.StoreID),
	}
	if err := s.db.CreateVehicle(c.Request.Context(), v); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "stock number already exists for store"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(c *gin.Context) {
	const op = "server.handleGetVehicle"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := s.db.GetVehicle(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	status, err := s.manager.VehicleStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	imgs, err := s.db.ListImagesByVehicle(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vehicle":           v,
		"processing_status": status,
		"images":            imgs,
	})
}

func (s *Server) handleUploadImage(c *gin.Context) {
	const op = "server.handleUploadImage"

	vehicleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.db.GetVehicle(c.Request.Context(), vehicleID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	imageType := models.ImageType(c.PostForm("image_type"))
	if !imageType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown image_type"})
		return
	}
	sortOrder, err := strconv.Atoi(c.DefaultPostForm("sort_order", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort_order must be an integer"})
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New()
	name := id.String() + filepath.Ext(file.Filename)
	originalPath := filepath.Join(s.cfg.StoragePath, "original", name)
	if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	f, err := os.Create(originalPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer f.Close()

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()

	if _, err := io.Copy(f, src); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	img := &models.VehicleImage{
		ID:          id,
		VehicleID:   vehicleID,
		OriginalURL: "/files/original/" + name,
		ImageType:   imageType,
		SortOrder:   sortOrder,
	}
	if err := s.db.CreateImage(c.Request.Context(), img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusCreated, img)
}

type processRequest struct {
	ImageIDs []string `json:"image_ids"`
	Force    bool     `json:"force"`
}

func (s *Server) handleProcess(c *gin.Context) {
	const op = "server.handleProcess"

	vehicleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req processRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	imageIDs := make([]uuid.UUID, 0, len(req.ImageIDs))
	for _, raw := range req.ImageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad image id %q", raw)})
			return
		}
		imageIDs = append(imageIDs, id)
	}

	// No explicit set means every key image the vehicle has.
	if len(imageIDs) == 0 {
		imgs, err := s.db.ListImagesByVehicle(c.Request.Context(), vehicleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
			return
		}
		for _, img := range imgs {
			if img.ImageType.IsKey() {
				imageIDs = append(imageIDs, img.ID)
			}
		}
	}

	job, err := s.manager.CreateJob(c.Request.Context(), vehicleID, imageIDs)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	payload, err := json.Marshal(worker.Message{JobID: job.ID, Force: req.Force})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	// Keyed by vehicle so jobs for one vehicle stay on one partition and are
	// consumed in creation order.
	err = s.producer.WriteMessages(c.Request.Context(), kafka.Message{
		Key:   []byte(vehicleID.String()),
		Value: payload,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleGetJob(c *gin.Context) {
	const op = "server.handleGetJob"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.manager.Job(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	const op = "server.handleListJobs"

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobList, err := s.db.ListJobsByVehicle(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobList})
}

func (s *Server) handleFeed(c *gin.Context) {
	const op = "server.handleFeed"

	key := c.GetHeader("X-API-Key")
	if key == "" {
		key = c.Query("api_key")
	}
	if err := s.authn.Authenticate(key); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if body, err := s.feedCache.Get(ctx, "csv"); err == nil && body != "" {
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
		return
	}

	body, err := s.generator.Generate(ctx, s.cfg.BaseURL)
	if err != nil {
		// Never serve a partial feed; the consumer retries on its own cadence.
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	// Cache trouble should not block the poll.
	ttl := time.Duration(s.cfg.FeedCacheTTL) * time.Second
	_ = s.feedCache.Store(ctx, "csv", ttl, body)

	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
}
