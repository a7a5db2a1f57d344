// Package feed renders the inventory CSV the consumer polls. The output is
// bit-exact: fixed header, CRLF record terminators, pipe-separated absolute
// URLs with per-image cache-busting tokens.
package feed

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lotpix/internal/models"
)

const Header = "VIN,StockNumber,ImageURLs"

type Store interface {
	FeedSnapshot(ctx context.Context) ([]models.FeedVehicle, error)
}

type Generator struct {
	store Store
}

func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// Generate serializes the current snapshot. For a fixed snapshot the output
// is byte-identical across calls: vehicles are ordered by VIN, images by
// sort_order with ties broken by canonical key-type order, and the only
// timestamp source is each image's own updated_at.
func (g *Generator) Generate(ctx context.Context, baseURL string) (string, error) {
	const op = "feed.Generate"

	vehicles, err := g.store.FeedSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	sort.SliceStable(vehicles, func(i, j int) bool {
		return vehicles[i].VIN < vehicles[j].VIN
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write([]string{"VIN", "StockNumber", "ImageURLs"}); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	base := strings.TrimRight(baseURL, "/")
	for _, v := range vehicles {
		urls := imageURLs(base, v.Images)
		if len(urls) == 0 {
			// A vehicle with no optimized key images is omitted, never
			// emitted with an empty URL field.
			continue
		}
		if err := w.Write([]string{v.VIN, v.StockNumber, strings.Join(urls, "|")}); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return buf.String(), nil
}

func imageURLs(base string, images []models.VehicleImage) []string {
	eligible := make([]models.VehicleImage, 0, len(images))
	for _, img := range images {
		if img.IsOptimized && img.ImageType.IsKey() && img.OptimizedURL != nil {
			eligible = append(eligible, img)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].SortOrder != eligible[j].SortOrder {
			return eligible[i].SortOrder < eligible[j].SortOrder
		}
		return eligible[i].ImageType.Rank() < eligible[j].ImageType.Rank()
	})

	urls := make([]string, 0, len(eligible))
	for _, img := range eligible {
		path := *img.OptimizedURL
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		// The cache-busting token is the image's own updated_at, so edits to
		// one image never invalidate its siblings' cached URLs.
		urls = append(urls, base+path+"?v="+strconv.FormatInt(img.UpdatedAt.UnixMilli(), 10))
	}
	return urls
}
