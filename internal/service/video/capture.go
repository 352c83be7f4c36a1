// Package video adapts gocv capture devices and windows to the detection loop.
package video

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// Frame owns one captured Mat.
type Frame struct {
	Mat gocv.Mat
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Capture reads frames from a camera device, file or network stream.
type Capture struct {
	capture *gocv.VideoCapture
	source  string
}

// OpenCapture opens source. An integer source is a device index, anything else
// a file path or stream URL.
func OpenCapture(source string) (*Capture, error) {
	var device interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		device = id
	} else if isStream(source) {
		// low latency capture for network cameras
		if os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") == "" {
			os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;tcp|stimeout;5000000")
		}
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video source %s: %w", source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("cannot open video source: %s", source)
	}
	if isStream(source) {
		capture.Set(gocv.VideoCaptureBufferSize, 1)
	}

	return &Capture{capture: capture, source: source}, nil
}

// Read returns the next frame, or io.EOF when the stream has no more frames.
func (c *Capture) Read() (*Frame, error) {
	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	return &Frame{Mat: mat}, nil
}

// FrameCount returns the number of frames in a file source, or -1 for live sources.
func (c *Capture) FrameCount() int {
	if _, err := strconv.Atoi(c.source); err == nil || isStream(c.source) {
		return -1
	}
	if n := int(c.capture.Get(gocv.VideoCaptureFrameCount)); n > 0 {
		return n
	}
	return -1
}

// Close releases the capture device.
func (c *Capture) Close() error {
	return c.capture.Close()
}

func isStream(source string) bool {
	for _, scheme := range []string{"rtsp://", "rtsps://", "rtmp://", "http://", "https://", "udp://", "tcp://"} {
		if strings.HasPrefix(strings.ToLower(source), scheme) {
			return true
		}
	}
	return false
}
