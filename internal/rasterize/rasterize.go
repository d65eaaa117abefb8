// Package rasterize renders lecture PDF pages to PNG images.
package rasterize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Config controls page rendering.
type Config struct {
	DPI     int
	Workers int
	Logger  *slog.Logger
}

// PageCount returns the number of pages in a PDF.
func PageCount(pdfPath string) (int, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return count, nil
}

// Render rasterizes every page of the PDF into outDir as slide_NNNN.png and
// returns the image paths in page order. Pages render concurrently under a
// worker ceiling; rendering uses pdftoppm (poppler-utils) because it
// rasterizes the page as displayed rather than extracting embedded image
// objects.
func Render(ctx context.Context, pdfPath, outDir string, cfg Config) ([]string, error) {
	if cfg.DPI <= 0 {
		cfg.DPI = 144
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pageCount, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages: %s", pdfPath)
	}
	log.Debug("rendering pages", "file", filepath.Base(pdfPath), "pages", pageCount, "dpi", cfg.DPI)

	type result struct {
		page int
		err  error
	}

	results := make(chan result, pageCount)
	sem := make(chan struct{}, cfg.Workers)

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(page int) {
			defer func() { <-sem }() // release
			results <- result{page: page, err: renderPage(ctx, pdfPath, outDir, page, cfg.DPI)}
		}(page)
	}

	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", r.page, r.err)
		}
	}

	paths := make([]string, pageCount)
	for page := 1; page <= pageCount; page++ {
		paths[page-1] = pagePath(outDir, page)
	}
	return paths, nil
}

// renderPage renders one page via pdftoppm into outDir.
func renderPage(ctx context.Context, pdfPath, outDir string, page, dpi int) error {
	tmpDir, err := os.MkdirTemp("", "lectern-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -png: output PNG format
	// -f/-l N: render exactly one page
	// -r N: resolution in DPI
	// -singlefile: no page number suffix
	pageStr := fmt.Sprintf("%d", page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	if err := os.WriteFile(pagePath(outDir, page), data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}

func pagePath(outDir string, page int) string {
	return filepath.Join(outDir, fmt.Sprintf("slide_%04d.png", page))
}
