package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-panorama/internal/log"
	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/export"
	"github.com/teslashibe/go-panorama/pkg/frame"
	"github.com/teslashibe/go-panorama/pkg/framebuffer"
	"github.com/teslashibe/go-panorama/pkg/preview"
)

var stitchCmd = &cobra.Command{
	Use:   "stitch [images...]",
	Short: "Compose image files into a panorama or mosaic",
	Long: `Loads the given images in order (or every image in --dir, sorted by name),
composes them and writes the result.

Examples:
  panorama stitch left.jpg middle.jpg right.jpg -o pano.png
  panorama stitch --dir ./shots --mode mosaic -o grid.jpg
  panorama stitch --dir ./shots --preview strip.png`,
	RunE: runStitch,
}

var (
	stitchDir     string
	stitchMode    string
	stitchOutput  string
	stitchPreview string
)

func init() {
	rootCmd.AddCommand(stitchCmd)
	stitchCmd.Flags().StringVar(&stitchDir, "dir", "", "Directory of input images")
	stitchCmd.Flags().StringVarP(&stitchMode, "mode", "m", "", "Composition mode: panorama or mosaic (default from config)")
	stitchCmd.Flags().StringVarP(&stitchOutput, "output", "o", "composite.png", "Output path; the extension picks the format")
	stitchCmd.Flags().StringVar(&stitchPreview, "preview", "", "Also write a contact strip of the inputs to this path")
}

func runStitch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.Component("stitch")

	paths := args
	if stitchDir != "" {
		found, err := capture.ListImages(stitchDir)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no input images: pass files or --dir")
	}

	mode, err := compose.ParseMode(cfg.DefaultMode)
	if err != nil {
		return err
	}
	if stitchMode != "" {
		if mode, err = compose.ParseMode(stitchMode); err != nil {
			return err
		}
	}

	sc := cfg.Session()
	buf := framebuffer.New(sc.FrameSize)
	defer buf.Clear()
	for _, p := range paths {
		if err := appendFile(buf, p); err != nil {
			return err
		}
	}
	logger.Info("frames loaded", "count", buf.Count(), "size", fmt.Sprintf("%dx%d", buf.Size().X, buf.Size().Y))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sel := compose.NewSelector(sc.Panorama, compose.WithLogger(log.Component("compose")))
	defer sel.Reset()
	res, err := sel.Compose(ctx, buf.All(), mode)
	if err != nil {
		return err
	}

	img, err := sel.Image()
	if err != nil {
		return err
	}
	exp := export.New(sc.Export, log.Component("export"))
	out, err := exp.Export(img, stitchOutput)
	if err != nil {
		return err
	}

	if stitchPreview != "" {
		strip, err := preview.Strip(buf.All(), sc.PreviewScale)
		if err != nil {
			return err
		}
		if _, err := exp.Export(strip, stitchPreview); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d from %d frames in %s -> %s\n",
		res.Mode, res.Width, res.Height, res.Frames, res.Duration.Round(1e6), out)
	return nil
}

func appendFile(buf *framebuffer.Buffer, path string) error {
	f, err := frame.Load(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := buf.Append(f); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
