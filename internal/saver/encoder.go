package saver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// VideoEncoder turns a directory of per-frame PNGs into one encoded
// video, with a hardware-accelerated path and a software fallback. The
// encoder binary itself is out of scope.
type VideoEncoder interface {
	EncodeFrames(ctx context.Context, dir string, fps int, outPath string) error
}

// FFmpegEncoder shells out to ffmpeg. hwaccelArgs is empty for the
// software path; NewHardwareEncoder supplies a hardware acceleration flag set.
type FFmpegEncoder struct {
	hwaccelArgs []string
}

// NewSoftwareEncoder returns the libx264 software-only encoder path.
func NewSoftwareEncoder() *FFmpegEncoder { return &FFmpegEncoder{} }

// NewHardwareEncoder returns the NPU/VAAPI-accelerated encoder path,
// selected when the session's NPU flag is set.
func NewHardwareEncoder() *FFmpegEncoder {
	return &FFmpegEncoder{hwaccelArgs: []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128"}}
}

func (e *FFmpegEncoder) EncodeFrames(ctx context.Context, dir string, fps int, outPath string) error {
	args := append([]string{}, e.hwaccelArgs...)
	args = append(args,
		"-y",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", dir+"/frame_%06d.png",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodeError{Output: string(out), Err: err, Hardware: len(e.hwaccelArgs) > 0}
	}
	return nil
}

// EncodeError carries enough detail for FallbackEncoder to distinguish a
// hardware-channel-exhaustion failure from a fatal one.
type EncodeError struct {
	Output   string
	Err      error
	Hardware bool
}

func (e *EncodeError) Error() string { return fmt.Sprintf("ffmpeg failed: %v: %s", e.Err, e.Output) }
func (e *EncodeError) Unwrap() error { return e.Err }

// isChannelExhaustion recognizes the hardware encoder's "no free
// channel" class of failure, reported by VAAPI/NPU drivers as a
// device-busy or no-space error in ffmpeg's stderr.
func isChannelExhaustion(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "no space left") ||
		strings.Contains(lower, "device or resource busy") ||
		strings.Contains(lower, "failed to initialise vaapi") ||
		strings.Contains(lower, "cannot open encoder")
}

// FallbackEncoder tries the hardware path first; on a detected
// channel-exhaustion error it falls back to software. Any other
// hardware failure, or a software failure, is fatal.
type FallbackEncoder struct {
	Hardware VideoEncoder
	Software *FFmpegEncoder
}

// NewFallbackEncoder wires NPU-first with a software fallback.
func NewFallbackEncoder() *FallbackEncoder {
	return &FallbackEncoder{Hardware: NewHardwareEncoder(), Software: NewSoftwareEncoder()}
}

func (e *FallbackEncoder) EncodeFrames(ctx context.Context, dir string, fps int, outPath string) error {
	err := e.Hardware.EncodeFrames(ctx, dir, fps, outPath)
	if err == nil {
		return nil
	}

	var encErr *EncodeError
	if ee, ok := err.(*EncodeError); ok {
		encErr = ee
	}
	if encErr == nil || !isChannelExhaustion(encErr.Output) {
		return fmt.Errorf("hardware encode failed (not a channel-exhaustion condition): %w", err)
	}

	if fbErr := e.Software.EncodeFrames(ctx, dir, fps, outPath); fbErr != nil {
		return fmt.Errorf("hardware encode exhausted and software fallback also failed: %w", fbErr)
	}
	return nil
}
