package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/render"
)

var errInvalidImage = errors.New("not an image")

// ShareOptions holds flags for the share command.
type ShareOptions struct {
	*RootOptions
	Name      string
	ExpiresIn time.Duration

	// IDs allows overriding the record id generator (for testing).
	// If nil, defaults to ShortIDGenerator.
	IDs access.IDGenerator

	// Now allows overriding the clock (for testing).
	Now func() time.Time
}

// ShareResult is the output of the share command.
type ShareResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	Link      string `json:"link"`
}

// NewShareCommand creates the share command.
func NewShareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "share <image-file>",
		Short: "Store an image and print its view link",
		Long: `Store an image file and print the link that opens it.

Only image files are accepted; the type is detected from the content, not
the file extension.

Examples:
  snapguard share ./beach.png
  snapguard share ./beach.png --name "Beach day" --expires-in 24h --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShare(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (defaults to the file name)")
	cmd.Flags().DurationVar(&opts.ExpiresIn, "expires-in", 0, "informational expiry shown in listings (0 = none)")

	return cmd
}

func runShare(opts *ShareOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	dataURL, err := render.LoadFile(path)
	if err != nil {
		if errors.Is(err, render.ErrNotImage) || errors.Is(err, render.ErrMalformedDataURL) {
			return reportError(f, ExitFailure, "file rejected", fmt.Errorf("%w: %w", errInvalidImage, err))
		}
		return reportError(f, ExitCommandError, "failed to read file", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ids := opts.IDs
	if ids == nil {
		ids = access.ShortIDGenerator{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}

	created := now()
	rec := ir.NewImageRecord(ids.Generate(), name, dataURL, created.UnixMilli())
	if opts.ExpiresIn > 0 {
		exp := created.Add(opts.ExpiresIn).UnixMilli()
		rec.ExpiresAt = &exp
	}

	if err := st.Create(context.Background(), rec); err != nil {
		return reportError(f, ExitCommandError, "failed to store image", err)
	}

	result := ShareResult{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Link:      strings.TrimRight(cfg.PublicURL, "/") + "/view/" + rec.ID,
	}
	return f.Render(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Shared %s\n", result.Name)
		fmt.Fprintf(w, "Link: %s\n", result.Link)
		return nil
	})
}

// reportError writes a JSON error response in JSON mode and returns the
// matching ExitError. Text mode leaves printing to the caller of Execute.
func reportError(f *OutputFormatter, exitCode int, message string, err error) error {
	if f.Format == "json" {
		_ = f.Error(ErrorCode(err), message, err.Error())
	}
	return WrapExitError(exitCode, message, err)
}
