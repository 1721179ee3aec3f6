package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageRenderer turns a flyer into ordered page images.
type PageRenderer interface {
	Render(ctx context.Context, src models.FlyerSource, dpi int) (*RenderedFlyer, error)
}

// RenderedFlyer owns the page images of one flyer and any scratch files used
// to produce them. Close must be called on every path.
type RenderedFlyer struct {
	Pages   []models.PageImage
	tempDir string
}

// NewRenderedFlyer wraps already rendered pages that own no scratch files.
func NewRenderedFlyer(pages []models.PageImage) *RenderedFlyer {
	return &RenderedFlyer{Pages: pages}
}

func (r *RenderedFlyer) Close() error {
	r.Pages = nil
	if r.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(r.tempDir)
	r.tempDir = ""
	return err
}

// pageSource is the subset of a fitz document used for rendering.
type pageSource interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Rasterizer validates a PDF with pdfcpu and renders its pages with MuPDF.
type Rasterizer struct {
	jpegQuality int
	open        func(path string) (pageSource, error)
}

// NewRasterizer creates a Rasterizer that encodes pages as JPEG at the given quality.
func NewRasterizer(jpegQuality int) *Rasterizer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &Rasterizer{
		jpegQuality: jpegQuality,
		open: func(path string) (pageSource, error) {
			return fitz.New(path)
		},
	}
}

// Render validates and optimizes the PDF into a scratch directory, then renders
// every page in order at dpi.
func (r *Rasterizer) Render(ctx context.Context, src models.FlyerSource, dpi int) (_ *RenderedFlyer, err error) {
	if dpi <= 0 {
		return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("dpi must be positive, got %d", dpi)}
	}
	logCtx := slog.With("flyer", src.FileName, "dpi", dpi)

	tempDir, err := os.MkdirTemp("", "flyer-render-*")
	if err != nil {
		return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	rendered := &RenderedFlyer{tempDir: tempDir}
	defer func() {
		if err != nil {
			_ = rendered.Close()
		}
	}()

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(src.Path, optimizedPath); err != nil {
		return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to validate/optimize PDF: %w", err)}
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to get page count: %w", err)}
	}
	if pageCount == 0 {
		return nil, &RasterizationError{Path: src.Path, Err: errors.New("PDF has no pages")}
	}

	doc, err := r.open(optimizedPath)
	if err != nil {
		return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to open PDF for rendering: %w", err)}
	}
	defer doc.Close()

	if n := doc.NumPage(); n != pageCount {
		logCtx.Warn("Renderer and validator disagree on page count.", "pdfcpuPages", pageCount, "renderPages", n)
		pageCount = n
	}

	pages := make([]models.PageImage, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to render page %d: %w", i, err)}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
			return nil, &RasterizationError{Path: src.Path, Err: fmt.Errorf("failed to encode page %d: %w", i, err)}
		}
		pages = append(pages, models.PageImage{
			SourceKey: src.Key(),
			Index:     i,
			DPI:       dpi,
			MIMEType:  "image/jpeg",
			Data:      buf.Bytes(),
		})
	}

	rendered.Pages = pages
	logCtx.Info("Flyer rasterized.", "pageCount", len(pages))
	return rendered, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
