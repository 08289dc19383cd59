// Package tesseract provides a text extraction backend that shells out to
// the tesseract OCR engine, rasterising PDF pages with pdftoppm first.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/docintel/internal/adapters/driven/ocr"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure Backend implements the interface.
var _ driven.TextExtractionBackend = (*Backend)(nil)

// Default configuration values.
const (
	DefaultTesseract = "tesseract"
	DefaultPdftoppm  = "pdftoppm"
	DefaultDPI       = 300
	DefaultLang      = "eng"
	DefaultOEM       = 3
	DefaultPSM       = 3

	// wordLevel is the TSV level of a single word.
	wordLevel = 5
)

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and captures its output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	logger.Debug("%s finished in %dms (stdout %d bytes)", name, time.Since(start).Milliseconds(), out.Len())
	return out.Bytes(), errb.Bytes(), err
}

// Config holds configuration for the tesseract backend.
type Config struct {
	// Tesseract is the tesseract executable (default: tesseract).
	Tesseract string

	// Pdftoppm is the PDF rasteriser executable (default: pdftoppm).
	Pdftoppm string

	// DPI is the rasterisation resolution (default: 300).
	DPI int

	// Lang is the tesseract language (default: eng).
	Lang string

	// OEM and PSM are the engine and page segmentation modes (default: 3, 3).
	OEM int
	PSM int

	// TessdataDir overrides the tesseract data directory when set.
	TessdataDir string
}

// Backend recognises page text with tesseract.
type Backend struct {
	cfg    Config
	runner Runner
}

// New creates a tesseract backend. A nil runner uses ExecRunner.
func New(cfg Config, runner Runner) *Backend {
	if cfg.Tesseract == "" {
		cfg.Tesseract = DefaultTesseract
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = DefaultPdftoppm
	}
	if cfg.DPI == 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.OEM == 0 {
		cfg.OEM = DefaultOEM
	}
	if cfg.PSM == 0 {
		cfg.PSM = DefaultPSM
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Backend{cfg: cfg, runner: runner}
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "tesseract"
}

// Close releases resources.
func (b *Backend) Close() error {
	return nil
}

// Extract recognises the text of one page.
func (b *Backend) Extract(ctx context.Context, page domain.PageImage) (*domain.RecognizedText, error) {
	ext, ok := extensions[page.MIMEType]
	if !ok {
		return nil, &domain.OCRError{
			Code:    "unsupported",
			Message: fmt.Sprintf("cannot read %s", page.MIMEType),
			Page:    page.Index,
			Err:     domain.ErrUnsupportedType,
		}
	}

	tmpDir, err := os.MkdirTemp("", "docintel-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Warn("Failed to remove %s: %v", tmpDir, err)
		}
	}()

	input := filepath.Join(tmpDir, "page"+ext)
	if err := os.WriteFile(input, page.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write page: %w", err)
	}

	image := input
	if page.MIMEType == "application/pdf" {
		prefix := filepath.Join(tmpDir, "raster")
		if _, errb, err := b.runner.Run(ctx, b.cfg.Pdftoppm,
			"-r", strconv.Itoa(b.cfg.DPI), "-png", "-singlefile", input, prefix); err != nil {
			return nil, b.commandError(ctx, "rasterize", page.Index, errb, err)
		}
		image = prefix + ".png"
	}

	out, errb, err := b.runner.Run(ctx, b.cfg.Tesseract, b.args(image)...)
	if err != nil {
		return nil, b.commandError(ctx, "engine", page.Index, errb, err)
	}

	words, err := ParseTSV(out)
	if err != nil {
		return nil, &domain.OCRError{Code: "output", Message: "unreadable tesseract output", Page: page.Index, Err: err}
	}
	return ocr.Build(words, b.Name()), nil
}

func (b *Backend) args(image string) []string {
	args := []string{image, "stdout", "-l", b.cfg.Lang,
		"--oem", strconv.Itoa(b.cfg.OEM), "--psm", strconv.Itoa(b.cfg.PSM)}
	if b.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", b.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

func (b *Backend) commandError(ctx context.Context, code string, page int, stderr []byte, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		err = fmt.Errorf("%w: %w", domain.ErrOCRUnavailable, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return &domain.OCRError{Code: code, Message: truncate(strings.TrimSpace(string(stderr)), 512), Page: page, Err: err}
}

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/tiff":      ".tif",
	"image/bmp":       ".bmp",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
}

// ParseTSV reads tesseract TSV output into words in reading order. Each
// distinct (block, paragraph, line) becomes its own line ordinal.
func ParseTSV(out []byte) ([]ocr.Word, error) {
	rows := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return nil, errors.New("missing tsv header")
	}

	var words []ocr.Word
	line := -1
	lastKey := ""
	for _, row := range rows[1:] {
		cols := strings.Split(strings.TrimRight(row, "\r"), "\t")
		if len(cols) < 12 {
			continue
		}
		level, err := strconv.Atoi(cols[0])
		if err != nil || level != wordLevel {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if text == "" {
			continue
		}

		key := cols[2] + "/" + cols[3] + "/" + cols[4]
		if key != lastKey {
			line++
			lastKey = key
		}

		nums := make([]int, 4)
		for i := range nums {
			nums[i], _ = strconv.Atoi(cols[6+i])
		}
		conf, _ := strconv.ParseFloat(cols[10], 64)
		if conf < 0 {
			conf = 0
		}

		words = append(words, ocr.Word{
			Text:       text,
			Line:       line,
			Box:        domain.BoundingBox{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]},
			Confidence: conf / 100,
		})
	}
	return words, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
