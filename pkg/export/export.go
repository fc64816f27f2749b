// Package export writes composites to image files.
//
// The encoder is chosen from the destination's extension. An unrecognized or
// missing extension gets ".png" appended, and the final path is returned so
// callers can report where the file actually landed.
package export

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format identifies an output encoding.
type Format string

// Supported formats.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// DefaultJPEGQuality is used when Options.JPEGQuality is zero.
const DefaultJPEGQuality = 92

var extensions = map[string]Format{
	".png":  FormatPNG,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
}

// Ext returns the canonical file extension, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tiff"
	case FormatBMP:
		return ".bmp"
	default:
		return ".png"
	}
}

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

// FormatFromPath returns the format implied by path's extension. The second
// result is false when the extension is missing or unrecognized.
func FormatFromPath(path string) (Format, bool) {
	f, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// ParseFormat parses a format name such as "png", "jpg" or ".tiff".
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, ".") {
		s = "." + s
	}
	if f, ok := extensions[s]; ok {
		return f, nil
	}
	return "", fmt.Errorf("export: unknown format %q", strings.TrimPrefix(s, "."))
}

// ResolvePath returns the path an export to path will actually write and the
// format it will use.
func ResolvePath(path string) (string, Format) {
	if f, ok := FormatFromPath(path); ok {
		return path, f
	}
	return path + FormatPNG.Ext(), FormatPNG
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format, jpegQuality int) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		if jpegQuality <= 0 {
			jpegQuality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatBMP:
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("export: unknown format %q", string(f))
	}
}

// Options configures an Exporter.
type Options struct {
	// Dir is the base directory for relative paths. Empty means the
	// process working directory.
	Dir string `yaml:"dir" json:"dir"`

	// JPEGQuality is the JPEG quality in [1, 100].
	JPEGQuality int `yaml:"jpeg_quality" json:"jpeg_quality"`

	// Confine rejects absolute paths and paths that climb out of Dir.
	// Exporters reachable over the network must set it.
	Confine bool `yaml:"-" json:"-"`
}

// Exporter writes images to disk.
type Exporter struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Exporter. A nil logger uses slog.Default.
func New(opts Options, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	return &Exporter{opts: opts, logger: logger}
}

// Export writes img to path and returns the path written. The image is
// encoded to a temporary file next to the destination and renamed into
// place, so on failure an existing file at path is left untouched.
func (e *Exporter) Export(img image.Image, path string) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrNoImage
	}
	if path == "" {
		return "", &Error{Kind: ErrIO, Path: path, Format: FormatPNG, Err: errors.New("empty path")}
	}
	if e.opts.Confine && !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}
	if !filepath.IsAbs(path) && e.opts.Dir != "" {
		path = filepath.Join(e.opts.Dir, path)
	}
	path, format := ResolvePath(path)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", &Error{Kind: ErrIO, Path: path, Format: format, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, img, format, e.opts.JPEGQuality); err != nil {
		tmp.Close()
		return "", &Error{Kind: ErrEncode, Path: path, Format: format, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", &Error{Kind: ErrIO, Path: path, Format: format, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Kind: ErrIO, Path: path, Format: format, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", &Error{Kind: ErrIO, Path: path, Format: format, Err: err}
	}

	e.logger.Info("composite exported",
		"path", path,
		"format", string(format),
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)
	return path, nil
}
