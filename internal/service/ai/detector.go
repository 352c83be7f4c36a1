package ai

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crowdwatch/internal/config"
	"crowdwatch/internal/dto"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/service/video"

	"gocv.io/x/gocv"
)

const (
	// PersonLabel is the label given to every detection.
	PersonLabel = "person"

	yoloInputSize = 640
	ssdInputSize  = 300
	// class ids of "person" in each model family
	yoloPersonClass = 0
	ssdPersonClass  = 1
)

type modelKind int

const (
	modelYOLOv8 modelKind = iota
	modelSSD
)

// DetectorService counts people with a pretrained DNN loaded through gocv.
// ONNX models are treated as YOLOv8 exports; other formats are loaded as
// SSD MobileNet graphs with an optional config file.
type DetectorService struct {
	net          gocv.Net
	kind         modelKind
	modelPath    string
	configPath   string
	minConf      float32
	nmsThreshold float32
	logger       *logger.Logger
	mu           sync.Mutex
}

// NewDetectorService loads the model named in the configuration.
func NewDetectorService(config *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:    config.ModelPath,
		configPath:   config.ModelConfigPath,
		minConf:      float32(config.ConfidenceThreshold),
		nmsThreshold: float32(config.NMSThreshold),
		logger:       logger,
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	var net gocv.Net
	if strings.EqualFold(filepath.Ext(s.modelPath), ".onnx") {
		s.kind = modelYOLOv8
		net = gocv.ReadNetFromONNX(s.modelPath)
	} else {
		if s.configPath != "" {
			if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
				return fmt.Errorf("config file not found: %s", s.configPath)
			}
		}
		s.kind = modelSSD
		net = gocv.ReadNet(s.modelPath, s.configPath)
	}

	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)

	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// Detect runs the network on a captured frame.
func (s *DetectorService) Detect(frame *video.Frame) ([]dto.DetectionResult, error) {
	return s.DetectMat(frame.Mat)
}

// DetectMat returns the people found in mat with confidence above the configured threshold.
func (s *DetectorService) DetectMat(mat gocv.Mat) ([]dto.DetectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.net.Empty() {
		return nil, fmt.Errorf("detection network not initialized")
	}
	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	var blob gocv.Mat
	if s.kind == modelYOLOv8 {
		blob = gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	} else {
		blob = gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(ssdInputSize, ssdInputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	}
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	width, height := float32(mat.Cols()), float32(mat.Rows())

	var boxes []image.Rectangle
	var scores []float32
	if s.kind == modelYOLOv8 {
		// output shape: [1, 4+classes, candidates]
		sizes := output.Size()
		if len(sizes) != 3 {
			return nil, fmt.Errorf("unexpected YOLO output shape %v", sizes)
		}
		boxes, scores = decodeYOLOv8(data, sizes[1], sizes[2], width/yoloInputSize, height/yoloInputSize, s.minConf)
	} else {
		boxes, scores = decodeSSD(data, width, height, s.minConf)
	}

	if len(boxes) == 0 {
		return []dto.DetectionResult{}, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, s.minConf, s.nmsThreshold)
	results := make([]dto.DetectionResult, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		results = append(results, dto.DetectionResult{
			Label:      PersonLabel,
			Confidence: float64(scores[idx]),
			X:          box.Min.X,
			Y:          box.Min.Y,
			Width:      box.Dx(),
			Height:     box.Dy(),
		})
	}
	return results, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

// decodeYOLOv8 reads person candidates from a channel-major YOLOv8 tensor
// with `channels` rows (4 box values then class scores) of `candidates` columns.
// Boxes are scaled back to the source frame with scaleX/scaleY.
func decodeYOLOv8(data []float32, channels, candidates int, scaleX, scaleY, minConf float32) ([]image.Rectangle, []float32) {
	scoreRow := 4 + yoloPersonClass
	if channels <= scoreRow || len(data) < channels*candidates {
		return nil, nil
	}

	var boxes []image.Rectangle
	var scores []float32
	for i := 0; i < candidates; i++ {
		score := data[scoreRow*candidates+i]
		if score < minConf {
			continue
		}

		cx := data[0*candidates+i]
		cy := data[1*candidates+i]
		w := data[2*candidates+i]
		h := data[3*candidates+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, score)
	}
	return boxes, scores
}

// decodeSSD reads person rows from SSD output laid out as
// [batch_id, class_id, confidence, x1, y1, x2, y2] with normalized corners.
func decodeSSD(data []float32, width, height, minConf float32) ([]image.Rectangle, []float32) {
	var boxes []image.Rectangle
	var scores []float32
	for i := 0; i+7 <= len(data); i += 7 {
		confidence := data[i+2]
		if int(data[i+1]) != ssdPersonClass || confidence < minConf {
			continue
		}

		x1 := int(data[i+3] * width)
		y1 := int(data[i+4] * height)
		x2 := int(data[i+5] * width)
		y2 := int(data[i+6] * height)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, confidence)
	}
	return boxes, scores
}
