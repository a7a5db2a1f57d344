package optimizer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	feedWidth   = 1600
	thumbWidth  = 300
	thumbHeight = 200
	jpegQuality = 85
)

// LocalTransformer implements the transformation contract against the local
// asset store: resize to feed width, re-encode as JPEG, draw the dealer
// watermark, and cut a thumbnail. Assets are addressed by the same public
// path scheme the HTTP layer serves.
type LocalTransformer struct {
	root      string // asset directory on disk
	publicPfx string // URL prefix the HTTP layer serves root under
	watermark string
	font      *truetype.Font
}

func NewLocalTransformer(root, publicPfx, watermarkText string) (*LocalTransformer, error) {
	const op = "optimizer.NewLocalTransformer"
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &LocalTransformer{
		root:      root,
		publicPfx: strings.TrimRight(publicPfx, "/"),
		watermark: watermarkText,
		font:      f,
	}, nil
}

func (t *LocalTransformer) Transform(ctx context.Context, originalURL, target string) (TransformOutput, error) {
	const op = "optimizer.Transform"

	if err := ctx.Err(); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: %w", op, ErrUnreachable)
	}
	// The asset root disappearing is an infrastructure outage, not a bad
	// image: abort the job.
	if _, err := os.Stat(t.root); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: asset root: %w", op, ErrUnreachable)
	}

	src, err := imaging.Open(t.sourcePath(originalURL))
	if err != nil {
		return TransformOutput{}, fmt.Errorf("%s: open source: %w", op, err)
	}

	resized := imaging.Resize(src, feedWidth, 0, imaging.Lanczos)
	stamped, err := t.stamp(resized)
	if err != nil {
		return TransformOutput{}, fmt.Errorf("%s: watermark: %w", op, err)
	}

	optimizedPath := filepath.Join(t.root, "optimized", filepath.FromSlash(target))
	if err := os.MkdirAll(filepath.Dir(optimizedPath), 0o755); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: %v: %w", op, err, ErrUnreachable)
	}
	if err := imaging.Save(stamped, optimizedPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: save optimized: %w", op, err)
	}

	thumb := imaging.Thumbnail(src, thumbWidth, thumbHeight, imaging.Lanczos)
	thumbPath := filepath.Join(t.root, "thumbs", filepath.FromSlash(target))
	if err := os.MkdirAll(filepath.Dir(thumbPath), 0o755); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: %v: %w", op, err, ErrUnreachable)
	}
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return TransformOutput{}, fmt.Errorf("%s: save thumbnail: %w", op, err)
	}

	return TransformOutput{
		OptimizedURL: t.publicPfx + "/optimized/" + target,
		ThumbnailURL: t.publicPfx + "/thumbs/" + target,
	}, nil
}

func (t *LocalTransformer) sourcePath(originalURL string) string {
	rel := strings.TrimPrefix(originalURL, t.publicPfx)
	return filepath.Join(t.root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

func (t *LocalTransformer) stamp(img image.Image) (image.Image, error) {
	if t.watermark == "" {
		return img, nil
	}

	dst := imaging.Clone(img)
	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(t.font)
	c.SetFontSize(28)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetSrc(image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 200}))

	pt := freetype.Pt(24, dst.Bounds().Dy()-24)
	if _, err := c.DrawString(t.watermark, pt); err != nil {
		return nil, err
	}
	return dst, nil
}
