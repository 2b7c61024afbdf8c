package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/overlay"
	"github.com/Proton-105/protrader-agent/internal/vision"
)

const annotateWidth = 2

// ScreenSource opens the grabber of a monitor, counted from 1.
type ScreenSource func(monitor int) (vision.Grabber, error)

// ActiveRects lists the overlay rectangles currently shown. overlay.Service implements it.
type ActiveRects interface {
	Active() []overlay.Rect
}

// Screenshots serves the screenshot command.
type Screenshots struct {
	open           ScreenSource
	defaultMonitor int
	overlay        ActiveRects
	log            *slog.Logger
}

// NewScreenshots captures through open. Invalid monitor numbers fall back to defaultMonitor.
func NewScreenshots(open ScreenSource, defaultMonitor int, log *slog.Logger) *Screenshots {
	if log == nil {
		log = slog.Default()
	}
	if defaultMonitor < 1 {
		defaultMonitor = 1
	}
	return &Screenshots{open: open, defaultMonitor: defaultMonitor, log: log.With("component", "screenshots")}
}

// SetOverlay lets "annotate": true outline the active overlay rectangles on captures.
func (s *Screenshots) SetOverlay(o ActiveRects) {
	s.overlay = o
}

// Register binds the screenshot command on d.
func (s *Screenshots) Register(d *Dispatcher) {
	d.Register("screenshot", s.capture)
}

type screenshotArgs struct {
	Monitor  int    `mapstructure:"monitor"`
	Region   []int  `mapstructure:"region"`
	Format   string `mapstructure:"format"`
	Quality  int    `mapstructure:"quality"`
	Annotate bool   `mapstructure:"annotate"`
}

func (s *Screenshots) capture(ctx context.Context, cmd Command) (Reply, error) {
	args := screenshotArgs{Monitor: s.defaultMonitor, Format: "PNG", Quality: 95}
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return Reply{}, apperrors.NewValidationError(err.Error())
	}
	args.Format = strings.ToUpper(args.Format)
	if args.Format != "JPEG" {
		args.Format = "PNG"
	}

	grabber, err := s.open(args.Monitor)
	if err != nil && args.Monitor != s.defaultMonitor {
		s.log.WarnContext(ctx, "monitor unavailable, using default", slog.Int("monitor", args.Monitor), slog.Any("error", err))
		args.Monitor = s.defaultMonitor
		grabber, err = s.open(args.Monitor)
	}
	if err != nil {
		return Reply{}, fmt.Errorf("open monitor %d: %w", args.Monitor, err)
	}

	bounds := grabber.Bounds()
	var region any
	if len(args.Region) == 4 {
		r := vision.Region(args.Region[0], args.Region[1], args.Region[2], args.Region[3])
		if bounds, err = vision.ClampRegion(r, grabber.Bounds()); err != nil {
			return Reply{}, apperrors.NewValidationError(err.Error())
		}
		region = args.Region
	}

	s.log.InfoContext(ctx, "taking screenshot", slog.Int("monitor", args.Monitor), slog.Any("region", region), slog.String("format", args.Format))

	img, err := grabber.Grab(ctx, bounds)
	if err != nil {
		return Reply{}, fmt.Errorf("grab: %w", err)
	}
	if args.Annotate && s.overlay != nil {
		overlay.Annotate(img, bounds.Min, s.overlay.Active(), annotateWidth)
	}

	dataURL, err := EncodeDataURL(img, args.Format, args.Quality)
	if err != nil {
		return Reply{}, err
	}

	return Reply{
		Type: "screenshot",
		Data: map[string]string{"data_url": dataURL},
		Meta: map[string]any{"monitor": args.Monitor, "region": region, "format": args.Format},
	}, nil
}

// EncodeDataURL encodes img as a PNG or JPEG data URL.
func EncodeDataURL(img image.Image, format string, quality int) (string, error) {
	var (
		buf  bytes.Buffer
		mime string
		err  error
	)

	switch strings.ToUpper(format) {
	case "JPEG":
		if quality <= 0 || quality > 100 {
			quality = 95
		}
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	default:
		mime = "image/png"
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", mime, err)
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
