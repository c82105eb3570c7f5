package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/render"
	"github.com/roach88/snapguard/internal/session"
)

// Approximate cell size used to turn a terminal size into a pixel viewport.
const (
	cellWidth  = 8
	cellHeight = 16
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	Width  int
	Height int

	// Ticker allows overriding the countdown ticker (for testing).
	// If nil, a wall-clock ticker is used.
	Ticker session.TickerFactory

	// Resolver allows overriding the address lookup (for testing).
	// If nil, the configured lookup service is used.
	Resolver ipresolve.Resolver
}

// FrameInfo describes a rendered frame without its payload.
type FrameInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interlocked bool   `json:"interlocked"`
	Watermark   string `json:"watermark"`
	Notice      string `json:"notice,omitempty"`
}

// ViewEvent is one line of view output in JSON mode.
type ViewEvent struct {
	session.Snapshot
	Message string     `json:"message,omitempty"`
	Frame   *FrameInfo `json:"frame,omitempty"`
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Open a share link in the terminal",
		Long: `Open a shared image the way a viewer would.

The access is logged, then the countdown runs. On an interactive terminal
press "b" to toggle the focus interlock and "q" to close the view. In JSON
mode every session update is printed as one JSON line.

Examples:
  snapguard view k3x9p2m1q
  snapguard view k3x9p2m1q --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Width, "width", 0, "viewport width in pixels (defaults to the terminal size)")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "viewport height in pixels (defaults to the terminal size)")

	return cmd
}

func runView(opts *ViewOptions, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	resolver := opts.Resolver
	if resolver == nil {
		resolver = ipresolve.NewHTTPResolver(cfg.IPLookupURL, cfg.IPLookupTimeout)
	}
	sessOpts := sessionOptions(cfg)
	if opts.Ticker != nil {
		sessOpts = append(sessOpts, session.WithTicker(opts.Ticker))
	}
	engine := session.New(st, access.NewLogger(st, resolver), sessOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := ir.Environment{
		UserAgent: fmt.Sprintf("snapguard-cli/%s (%s; %s)", ir.Version, runtime.GOOS, runtime.GOARCH),
		Platform:  runtime.GOOS,
	}
	sess, err := engine.Activate(ctx, id, env)
	if err != nil {
		return reportError(f, ExitCommandError, "failed to open view", err)
	}
	defer sess.Close()

	if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(in.Fd())) {
		restore := readKeys(ctx, cancel, in, sess)
		defer restore()
	}

	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("session countdown stopped", "image_id", id, "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	p := &viewPrinter{
		w:        out,
		json:     f.Format == "json",
		live:     isTerminal(out),
		renderer: render.New(),
		viewport: opts.viewport(out),
	}
	last := p.follow(sess)

	if last.State == session.StateNotFound {
		return reportError(f, ExitFailure, session.ExpiredMessage, errNotFound)
	}
	return nil
}

func (o *ViewOptions) viewport(out io.Writer) render.Viewport {
	vp := render.Viewport{Width: o.Width, Height: o.Height}
	if vp.Width > 0 && vp.Height > 0 {
		return vp
	}
	if f, ok := out.(*os.File); ok {
		if cols, rows, err := term.GetSize(int(f.Fd())); err == nil {
			return render.Viewport{Width: cols * cellWidth, Height: rows * cellHeight}
		}
	}
	return render.DefaultViewport
}

// readKeys puts the terminal into raw mode and maps key presses to focus
// changes. The returned function restores the terminal.
func readKeys(ctx context.Context, cancel context.CancelFunc, in *os.File, sess *session.Session) func() {
	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		slog.Debug("terminal raw mode unavailable", "error", err)
		return func() {}
	}

	go func() {
		reader := bufio.NewReaderSize(in, 1)
		for ctx.Err() == nil {
			b, err := reader.ReadByte()
			if err != nil {
				return
			}
			switch b {
			case 'b', 'B':
				if sess.Snapshot().Interlocked() {
					sess.GainFocus()
				} else {
					sess.LoseFocus()
				}
			case 'q', 'Q', 3: // Ctrl+C
				cancel()
				return
			}
		}
	}()

	return func() { _ = term.Restore(fd, oldState) }
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// viewPrinter writes session updates as text status lines or JSON lines.
type viewPrinter struct {
	w        io.Writer
	json     bool
	live     bool // overwrite the status line in place
	renderer *render.Renderer
	viewport render.Viewport

	rendered    bool
	interlocked bool
}

// follow prints every update until the session finishes and returns the
// last snapshot seen.
func (p *viewPrinter) follow(sess *session.Session) session.Snapshot {
	var last session.Snapshot
	for snap := range sess.Updates() {
		last = snap
		ev := ViewEvent{Snapshot: snap, Message: snap.Message()}

		if snap.State == session.StateActive && !snap.Closed &&
			(!p.rendered || snap.Interlocked() != p.interlocked) {
			if rec, ok := sess.Record(); ok {
				frame, err := p.renderer.Render(rec, snap.Interlocked(), p.viewport)
				if err != nil {
					slog.Error("render failed", "image_id", snap.ImageID, "error", err)
				} else {
					ev.Frame = &FrameInfo{
						Width:       frame.Width,
						Height:      frame.Height,
						Interlocked: frame.Interlocked,
						Watermark:   frame.Watermark,
						Notice:      frame.Notice,
					}
					if !p.rendered {
						p.announce(rec.Name, frame)
					}
				}
			}
			p.rendered = true
			p.interlocked = snap.Interlocked()
		}

		p.print(ev)
	}
	if p.live && !p.json {
		fmt.Fprint(p.w, p.eol())
	}
	return last
}

// eol ends a line. The live terminal is in raw mode, where a bare newline
// does not return the carriage.
func (p *viewPrinter) eol() string {
	if p.live {
		return "\r\n"
	}
	return "\n"
}

func (p *viewPrinter) announce(name string, frame render.Frame) {
	if p.json {
		return
	}
	fmt.Fprintf(p.w, "%s (%dx%d) - %s%s", name, frame.Width, frame.Height, frame.Watermark, p.eol())
}

func (p *viewPrinter) print(ev ViewEvent) {
	if p.json {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("failed to encode view event", "error", err)
			return
		}
		fmt.Fprintln(p.w, string(data))
		return
	}

	var line string
	switch {
	case ev.Message != "":
		line = ev.Message
	case ev.Closed:
		line = "View closed"
	case ev.Interlocked():
		line = fmt.Sprintf("%s - %ds remaining", render.InterlockNotice, ev.Remaining)
	default:
		line = fmt.Sprintf("Viewing - %ds remaining", ev.Remaining)
	}

	if p.live {
		fmt.Fprintf(p.w, "\r\033[2K%s", line)
		return
	}
	fmt.Fprintln(p.w, line)
}
