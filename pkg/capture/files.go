package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

// ListImages returns the image files in dir sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// FileSource replays still images from a directory in name order, looping
// at the end. Images are decoded once, on Start.
type FileSource struct {
	*producer
	cfg Config

	mu     sync.Mutex
	images []frame.Frame
	pos    int
}

// NewFileSource creates a source over the images in cfg.Dir.
func NewFileSource(cfg Config, logger *slog.Logger) *FileSource {
	return &FileSource{
		producer: newProducer("files", logger),
		cfg:      cfg,
	}
}

// Start loads the images and begins replay.
func (s *FileSource) Start(ctx context.Context) error {
	if err := s.load(); err != nil {
		return err
	}
	if err := s.start(ctx, s.cfg.Interval(), s.next); err != nil {
		return err
	}
	s.logger.Info("file capture source started", "dir", s.cfg.Dir, "images", len(s.images))
	return nil
}

func (s *FileSource) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) > 0 {
		return nil
	}

	paths, err := ListImages(s.cfg.Dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("capture: no images in %s", s.cfg.Dir)
	}

	for _, p := range paths {
		f, err := frame.Load(p)
		if err != nil {
			s.release()
			return err
		}
		s.images = append(s.images, f)
	}
	s.pos = 0
	return nil
}

func (s *FileSource) next() (frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) == 0 {
		return frame.Frame{}, ErrStopped
	}
	f := s.images[s.pos].Clone()
	f.Seq = s.pos
	s.pos = (s.pos + 1) % len(s.images)
	return f, nil
}

// release must be called with mu held.
func (s *FileSource) release() {
	for _, f := range s.images {
		f.Close()
	}
	s.images = nil
}

// Stop halts replay.
func (s *FileSource) Stop() error {
	s.halt()
	return nil
}

// Frames returns the frame channel.
func (s *FileSource) Frames() <-chan frame.Frame {
	return s.producer.frames()
}

// Name returns "files".
func (s *FileSource) Name() string {
	return "files"
}

// Close releases the decoded images.
func (s *FileSource) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.halt()
	s.mu.Lock()
	s.release()
	s.mu.Unlock()
	return nil
}

// Stats returns source statistics.
func (s *FileSource) Stats() SourceStats {
	return s.stats()
}

var _ SourceWithStats = (*FileSource)(nil)
