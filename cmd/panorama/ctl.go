package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-panorama/internal/config"
	"github.com/teslashibe/go-panorama/internal/httpc"
)

var ctlServer string

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Drive a running panorama server",
	Long: `Sends collection and composition commands to a running "panorama serve".

Examples:
  panorama ctl start
  panorama ctl capture
  panorama ctl stop
  panorama ctl compose mosaic
  panorama ctl export pano.jpg
  panorama ctl download out.png --format png`,
}

func init() {
	rootCmd.AddCommand(ctlCmd)
	ctlCmd.PersistentFlags().StringVarP(&ctlServer, "server", "s",
		"http://localhost:"+strconv.Itoa(config.DefaultPort), "Server base URL")

	ctlCmd.AddCommand(
		ctlCommand("status", "Show the session status", cobra.NoArgs,
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				return c.Status(cmd.Context())
			}),
		ctlCommand("start", "Begin a new collection", cobra.NoArgs,
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				return c.Start(cmd.Context())
			}),
		ctlCommand("capture", "Capture the current live frame", cobra.NoArgs,
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				idx, err := c.Capture(cmd.Context())
				return map[string]int{"index": idx}, err
			}),
		ctlCommand("stop", "End the collection", cobra.NoArgs,
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				return c.Stop(cmd.Context())
			}),
		ctlCommand("reset", "Discard frames and composite", cobra.NoArgs,
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				return c.Reset(cmd.Context())
			}),
		ctlCommand("compose [mode]", "Compose the collected frames", cobra.MaximumNArgs(1),
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				mode := ""
				if len(args) == 1 {
					mode = args[0]
				}
				return c.Compose(cmd.Context(), mode)
			}),
		ctlCommand("export <path>", "Write the composite on the server", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error) {
				path, err := c.Export(cmd.Context(), args[0])
				return map[string]string{"path": path}, err
			}),
		ctlDownloadCmd(),
	)
}

type ctlFunc func(cmd *cobra.Command, c *httpc.Client, args []string) (any, error)

// ctlCommand wraps fn as a subcommand that prints its result as JSON.
func ctlCommand(use, short string, argsFn cobra.PositionalArgs, fn ctlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argsFn,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := httpc.New(ctlServer, nil)
			if err != nil {
				return err
			}
			out, err := fn(cmd, c, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func ctlDownloadCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "download <file>",
		Short: "Download the composite to a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := httpc.New(ctlServer, nil)
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			ct, err := c.Composite(cmd.Context(), format, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(args[0])
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", args[0], ct)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "png", "Image format: png, jpeg, tiff, bmp")
	return cmd
}
