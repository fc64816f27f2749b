package compose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"runtime"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-panorama/pkg/frame"
)

// OpenCV refuses to warp onto canvases wider or taller than this.
const maxCanvasSide = 32767

// PanoramaConfig holds the tunable parameters of the stitching pipeline.
type PanoramaConfig struct {
	// Features is the maximum number of ORB keypoints per frame.
	Features int `yaml:"features" json:"features"`

	// RatioTest is Lowe's ratio between best and second-best match distance.
	RatioTest float64 `yaml:"ratio_test" json:"ratio_test"`

	// MinMatches is the minimum number of good matches and RANSAC inliers
	// required between consecutive frames. Never below 4.
	MinMatches int `yaml:"min_matches" json:"min_matches"`

	// RansacThreshold is the maximum reprojection error in pixels for a
	// correspondence to count as an inlier.
	RansacThreshold float64 `yaml:"ransac_threshold" json:"ransac_threshold"`

	// MaxScale bounds the area scale factor a pairwise homography may apply.
	MaxScale float64 `yaml:"max_scale" json:"max_scale"`

	// MaxCanvasScale bounds the canvas area relative to the summed frame area.
	// A correct stitch never covers more than the frames themselves.
	MaxCanvasScale float64 `yaml:"max_canvas_scale" json:"max_canvas_scale"`
}

// DefaultPanoramaConfig returns defaults suited to 640×480 hand-held captures.
func DefaultPanoramaConfig() PanoramaConfig {
	return PanoramaConfig{
		Features:        1500,
		RatioTest:       0.75,
		MinMatches:      10,
		RansacThreshold: 4.0,
		MaxScale:        4.0,
		MaxCanvasScale:  1.0,
	}
}

// Validate checks that the configuration is usable.
func (c *PanoramaConfig) Validate() error {
	if c.MinMatches < 4 {
		return fmt.Errorf("min_matches must be at least 4, got %d", c.MinMatches)
	}
	if c.Features < c.MinMatches {
		return fmt.Errorf("features must be at least min_matches (%d), got %d", c.MinMatches, c.Features)
	}
	if c.RatioTest <= 0 || c.RatioTest > 1 {
		return fmt.Errorf("ratio_test must be in (0, 1], got %v", c.RatioTest)
	}
	if c.RansacThreshold <= 0 {
		return fmt.Errorf("ransac_threshold must be positive, got %v", c.RansacThreshold)
	}
	if c.MaxScale < 1 {
		return fmt.Errorf("max_scale must be at least 1, got %v", c.MaxScale)
	}
	if c.MaxCanvasScale < 1 {
		return fmt.Errorf("max_canvas_scale must be at least 1, got %v", c.MaxCanvasScale)
	}
	return nil
}

// Panorama stitches overlapping frames captured in near-sequential order.
//
// Consecutive frames are registered pairwise; the middle frame is the
// reference plane every other frame is warped onto. Overlaps are resolved
// by overwrite, painting outer frames first so the reference ends on top.
type Panorama struct {
	cfg    PanoramaConfig
	logger *slog.Logger
}

// NewPanorama creates a panorama composer. An invalid config falls back to
// the defaults.
func NewPanorama(cfg PanoramaConfig, logger *slog.Logger) *Panorama {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid panorama config, using defaults", "error", err)
		cfg = DefaultPanoramaConfig()
	}
	return &Panorama{cfg: cfg, logger: logger}
}

// Config returns the active configuration.
func (p *Panorama) Config() PanoramaConfig {
	return p.cfg
}

// Mode returns ModePanorama.
func (p *Panorama) Mode() Mode {
	return ModePanorama
}

type features struct {
	keypoints   []gocv.KeyPoint
	descriptors gocv.Mat
	ok          bool
}

func (f *features) close() {
	if f.ok {
		f.descriptors.Close()
		f.ok = false
	}
}

// Compose runs feature extraction, pairwise registration, and warping.
// The context is checked between stages and between frames.
func (p *Panorama) Compose(ctx context.Context, frames []frame.Frame) (gocv.Mat, error) {
	if err := checkFrames(frames, 2, ModePanorama); err != nil {
		return gocv.Mat{}, err
	}

	feats, err := p.extract(ctx, frames)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer func() {
		for i := range feats {
			feats[i].close()
		}
	}()

	pairs := make([]*mat.Dense, len(frames)-1)
	for k := range pairs {
		if err := ctx.Err(); err != nil {
			return gocv.Mat{}, err
		}
		h, err := p.register(&feats[k], &feats[k+1], k)
		if err != nil {
			return gocv.Mat{}, err
		}
		pairs[k] = h
	}

	ref := (len(frames) - 1) / 2
	transforms, err := chain(pairs, ref)
	if err != nil {
		return gocv.Mat{}, &AlignmentError{Pair: -1, Reason: "singular homography chain"}
	}

	size := frames[0].Size()
	canvasRect, err := p.canvas(transforms, size, len(frames))
	if err != nil {
		return gocv.Mat{}, err
	}

	offset := translation(-float64(canvasRect.Min.X), -float64(canvasRect.Min.Y))
	for i := range transforms {
		transforms[i] = mul(offset, transforms[i])
	}

	out, err := p.warp(ctx, frames, transforms, canvasRect.Size(), ref)
	if err != nil {
		return gocv.Mat{}, err
	}

	p.logger.Debug("panorama composed",
		"frames", len(frames),
		"reference", ref,
		"width", out.Cols(),
		"height", out.Rows(),
	)
	return out, nil
}

// extract detects ORB keypoints and descriptors for every frame in
// parallel. ORB detectors are not safe for concurrent use, so each worker
// builds its own.
func (p *Panorama) extract(ctx context.Context, frames []frame.Frame) ([]features, error) {
	feats := make([]features, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			gray := gocv.NewMat()
			defer gray.Close()
			gocv.CvtColor(frames[i].Mat(), &gray, gocv.ColorBGRToGray)

			orb := gocv.NewORBWithParams(p.cfg.Features, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
			defer orb.Close()

			mask := gocv.NewMat()
			defer mask.Close()

			kps, desc := orb.DetectAndCompute(gray, mask)
			feats[i] = features{keypoints: kps, descriptors: desc, ok: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i := range feats {
			feats[i].close()
		}
		return nil, err
	}
	return feats, nil
}

// register estimates the homography mapping frame k+1 (next) into frame k
// (prev).
func (p *Panorama) register(prev, next *features, k int) (*mat.Dense, error) {
	if len(prev.keypoints) < p.cfg.MinMatches || len(next.keypoints) < p.cfg.MinMatches ||
		prev.descriptors.Empty() || next.descriptors.Empty() {
		return nil, &AlignmentError{Pair: k, Reason: "too few keypoints",
			Matches: min(len(prev.keypoints), len(next.keypoints))}
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()

	var good []gocv.DMatch
	for _, m := range matcher.KnnMatch(next.descriptors, prev.descriptors, 2) {
		if len(m) == 2 && m[0].Distance < p.cfg.RatioTest*m[1].Distance {
			good = append(good, m[0])
		}
	}
	if len(good) < p.cfg.MinMatches {
		return nil, &AlignmentError{Pair: k, Reason: "too few feature matches", Matches: len(good)}
	}

	src := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer dst.Close()
	for i, m := range good {
		from := next.keypoints[m.QueryIdx]
		to := prev.keypoints[m.TrainIdx]
		src.SetDoubleAt(i, 0, from.X)
		src.SetDoubleAt(i, 1, from.Y)
		dst.SetDoubleAt(i, 0, to.X)
		dst.SetDoubleAt(i, 1, to.Y)
	}

	inliers := gocv.NewMat()
	defer inliers.Close()
	hm := gocv.FindHomography(src, &dst, gocv.HomographyMethodRANSAC, p.cfg.RansacThreshold, &inliers, 2000, 0.995)
	defer hm.Close()

	h, ok := fromMat(hm)
	if !ok {
		return nil, &AlignmentError{Pair: k, Reason: "homography estimation did not converge", Matches: len(good)}
	}
	if n := gocv.CountNonZero(inliers); n < p.cfg.MinMatches {
		return nil, &AlignmentError{Pair: k, Reason: "too few RANSAC inliers", Matches: n}
	}
	if reason := degenerate(h, p.cfg.MaxScale); reason != "" {
		return nil, &AlignmentError{Pair: k, Reason: reason, Matches: len(good)}
	}
	return h, nil
}

// canvas computes the output rectangle in reference coordinates and rejects
// implausible layouts.
func (p *Panorama) canvas(transforms []*mat.Dense, size image.Point, n int) (image.Rectangle, error) {
	r, err := bounds(transforms, size)
	if err != nil {
		if errors.Is(err, errBehindCamera) {
			return image.Rectangle{}, &AlignmentError{Pair: -1, Reason: err.Error()}
		}
		return image.Rectangle{}, err
	}

	if r.Dx() > maxCanvasSide || r.Dy() > maxCanvasSide {
		return image.Rectangle{}, &AlignmentError{Pair: -1, Reason: fmt.Sprintf("canvas %dx%d too large", r.Dx(), r.Dy())}
	}
	area := float64(r.Dx()) * float64(r.Dy())
	limit := p.cfg.MaxCanvasScale * float64(n) * float64(size.X) * float64(size.Y)
	if area > limit {
		return image.Rectangle{}, &AlignmentError{Pair: -1, Reason: fmt.Sprintf("canvas %dx%d exceeds input area", r.Dx(), r.Dy())}
	}
	return r, nil
}

// warp projects every frame onto a black canvas of the given size.
func (p *Panorama) warp(ctx context.Context, frames []frame.Frame, transforms []*mat.Dense, size image.Point, ref int) (gocv.Mat, error) {
	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC3)

	fsize := frames[0].Size()
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), fsize.Y, fsize.X, gocv.MatTypeCV8U)
	defer mask.Close()

	for _, i := range paintOrder(len(frames), ref) {
		if err := ctx.Err(); err != nil {
			canvas.Close()
			return gocv.Mat{}, err
		}

		h := toMat(transforms[i])
		warped := gocv.NewMat()
		warpedMask := gocv.NewMat()

		gocv.WarpPerspective(frames[i].Mat(), &warped, h, size)
		gocv.WarpPerspectiveWithParams(mask, &warpedMask, h, size,
			gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})
		warped.CopyToWithMask(&canvas, warpedMask)

		warped.Close()
		warpedMask.Close()
		h.Close()
	}
	return canvas, nil
}

// paintOrder lists frame indices from the farthest to the reference, ending
// with the reference itself.
func paintOrder(n, ref int) []int {
	order := make([]int, 0, n)
	lo, hi := 0, n-1
	for lo < ref || hi > ref {
		if ref-lo >= hi-ref && lo < ref {
			order = append(order, lo)
			lo++
		} else {
			order = append(order, hi)
			hi--
		}
	}
	return append(order, ref)
}
