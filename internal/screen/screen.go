// Package screen implements ScreenSource (spec §4.2): capturing the primary
// display as a logical-resolution bitmap.
package screen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"runtime"

	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

// ErrorTag categorizes a capture failure so the decision loop never has to
// parse an error string (spec §4.2: "never throws into the decision loop").
type ErrorTag string

const (
	ErrorNone       ErrorTag = ""
	ErrorPermission ErrorTag = "PERMISSION"
	ErrorUnknown    ErrorTag = "UNKNOWN"
)

// Frame is one captured screenshot plus its logical metadata.
type Frame struct {
	PNG           []byte
	LogicalWidth  int
	LogicalHeight int
	ScaleFactor   float64
	Error         ErrorTag
	ErrorMessage  string
}

// Base64 encodes the frame's full-resolution PNG bytes. It does no scaling;
// CaptureAsBase64 is the call that downsamples to a thumbnail.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PNG)
}

// Capturer is the OS-level capture backend; platform-specific.
type Capturer interface {
	Capture(ctx context.Context) (pngBytes []byte, logicalW, logicalH int, scale float64, err error)
}

// ScreenSource is spec component C2.
type ScreenSource struct {
	capturer Capturer
	log      *zap.Logger
}

// New builds a ScreenSource over the given platform capturer.
func New(capturer Capturer) *ScreenSource {
	return &ScreenSource{capturer: capturer, log: logging.Named("screen")}
}

// Capture takes one frame of the primary display.
func (s *ScreenSource) Capture(ctx context.Context) Frame {
	png, w, h, scale, err := s.capturer.Capture(ctx)
	if err != nil {
		tag := ErrorUnknown
		if isPermissionError(err) {
			tag = ErrorPermission
		}
		s.log.Warn("capture failed", zap.String("tag", string(tag)), zap.Error(err))
		return Frame{Error: tag, ErrorMessage: err.Error()}
	}
	return Frame{PNG: png, LogicalWidth: w, LogicalHeight: h, ScaleFactor: scale}
}

// CaptureAsBase64 captures and returns the frame plus its base64 payload,
// downsampling to a small thumbnail when requested.
func (s *ScreenSource) CaptureAsBase64(ctx context.Context, thumbnail bool) (string, Frame, error) {
	frame := s.Capture(ctx)
	if frame.Error != ErrorNone {
		return "", frame, fmt.Errorf("capture: %s", frame.ErrorMessage)
	}
	data := frame.PNG
	if thumbnail {
		if scaled, err := downsample(data, 320); err == nil {
			data = scaled
		}
	}
	return base64.StdEncoding.EncodeToString(data), frame, nil
}

func downsample(pngBytes []byte, maxWidth int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxWidth {
		return pngBytes, nil
	}
	// Nearest-neighbour is sufficient for a decision-loop preview thumbnail;
	// the full-resolution frame is always what's sent to the model.
	scale := float64(maxWidth) / float64(bounds.Dx())
	dstW := maxWidth
	dstH := int(float64(bounds.Dy()) * scale)
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isPermissionError(err error) bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	return bytes.Contains([]byte(err.Error()), []byte("not authorized"))
}

// NewDefaultCapturer returns the platform capture backend: screencapture on
// darwin, ImageMagick's import elsewhere, both invoked as short-lived subprocesses
// writing to a temp file that is read back and removed.
func NewDefaultCapturer() Capturer {
	return &execCapturer{}
}

type execCapturer struct{}

func (c *execCapturer) Capture(ctx context.Context) ([]byte, int, int, float64, error) {
	tmp, err := newTempPNGPath()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer removeTemp(tmp)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "screencapture", "-x", tmp)
	default:
		cmd = exec.CommandContext(ctx, "import", "-window", "root", tmp)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("screen capture: %w (%s)", err, string(out))
	}

	data, err := readTemp(tmp)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, 0, err
	}
	bounds := img.Bounds()
	return data, bounds.Dx(), bounds.Dy(), 1.0, nil
}
