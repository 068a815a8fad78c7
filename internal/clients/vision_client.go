/**
 * Vision OCR Client - remote OCR engine over HTTP
 *
 * Sends label images to the vision service's internal extract-text endpoint
 * and converts the answer into text regions for the label processor.
 *
 * The service answers either synchronously (200) or with a task id (202)
 * that is polled until it completes. Unsupported or corrupt images come
 * back as 415/422 and are reported as decode errors, which are never retried.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

const visionEngineName = "vision"

// VisionOCRClient handles communication with the vision OCR service
type VisionOCRClient struct {
	baseURL      string
	language     string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image       string `json:"image"`       // Base64 encoded image
	Format      string `json:"format"`      // always "base64"
	Language    string `json:"language"`    // Optional: "en", "multi", etc.
	Granularity string `json:"granularity"` // "line" returns per-line boxes
	JobID       string `json:"jobId,omitempty"`
}

// VisionOCRResponse represents a synchronous response from the vision endpoint
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string       `json:"text"`
	Confidence     float64      `json:"confidence"`
	Lines          []VisionLine `json:"lines"`
	ModelUsed      string       `json:"modelUsed"`
	ProcessingTime int64        `json:"processingTime"` // milliseconds
}

// VisionLine is one recognized line with its box in image pixels
type VisionLine struct {
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	BoundingBox VisionLineBox `json:"boundingBox"`
}

// VisionLineBox represents the position of a line (client-specific type)
type VisionLineBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VisionOCRAsyncResponse represents an async (202 Accepted) response with taskId
type VisionOCRAsyncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
	Message string `json:"message"`
}

// TaskStatusResponse represents the response from polling /api/tasks/:taskId
type TaskStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Task TaskInfo `json:"task"`
	} `json:"data"`
	Message string `json:"message"`
}

// TaskInfo contains detailed task information
type TaskInfo struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"` // "pending", "processing", "completed", "failed"
	Progress int            `json:"progress"`
	Result   *VisionOCRData `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// NewVisionOCRClient creates a new vision OCR client
func NewVisionOCRClient(baseURL, language string) *VisionOCRClient {
	return &VisionOCRClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		language:     language,
		pollInterval: 500 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // deadline per attempt comes from the caller's context
		},
		logger: logging.NewLogger("VisionOCRClient"),
	}
}

// Name identifies the engine in logs and results
func (c *VisionOCRClient) Name() string { return visionEngineName }

// Extract implements processor.OCREngine
func (c *VisionOCRClient) Extract(ctx context.Context, image []byte) ([]processor.TextRegion, error) {
	data, err := c.ExtractText(ctx, &VisionOCRRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		Format:      "base64",
		Language:    c.language,
		Granularity: "line",
	})
	if err != nil {
		return nil, err
	}
	return toRegions(data), nil
}

// ExtractText runs one extraction, following an async task if the service hands one back
func (c *VisionOCRClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (*VisionOCRData, error) {
	c.logger.Debug("Requesting text extraction", "language", req.Language, "imageSize", len(req.Image))

	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal OCR request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "labelverify-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("request to vision service failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("failed to read response body: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		var asyncResp VisionOCRAsyncResponse
		if err := json.Unmarshal(body, &asyncResp); err != nil || asyncResp.Data.TaskID == "" {
			return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("async response without task id: %s", string(body)))
		}
		return c.WaitForTaskCompletion(ctx, asyncResp.Data.TaskID)
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return nil, apperrors.NewDecodeError("vision service rejected the image", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	default:
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("vision service returned status %d: %s", resp.StatusCode, string(body)))
	}

	var ocrResp VisionOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("failed to parse response: %w", err))
	}
	if !ocrResp.Success {
		return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("vision operation failed: %s", ocrResp.Message))
	}

	c.logger.Debug("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"lines", len(ocrResp.Data.Lines),
		"processingTime", ocrResp.Data.ProcessingTime)

	return &ocrResp.Data, nil
}

// GetTaskStatus polls for the status of an async task
func (c *VisionOCRClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/tasks/%s", c.baseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("X-Source", "labelverify-worker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var statusResp TaskStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &statusResp, nil
}

// WaitForTaskCompletion polls the task status until completion or the context ends
func (c *VisionOCRClient) WaitForTaskCompletion(ctx context.Context, taskID string) (*VisionOCRData, error) {
	c.logger.Debug("Waiting for task completion", "taskId", taskID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err()))

		case <-ticker.C:
			status, err := c.GetTaskStatus(ctx, taskID)
			if err != nil {
				c.logger.Warn("Failed to get task status", "taskId", taskID, "error", err)
				continue
			}

			task := status.Data.Task
			switch task.Status {
			case "completed":
				if task.Result == nil {
					return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("task %s completed without a result", taskID))
				}
				return task.Result, nil
			case "failed":
				return nil, apperrors.NewEngineError(visionEngineName, fmt.Errorf("task failed: %s", task.Error))
			case "pending", "processing":
				continue
			default:
				c.logger.Warn("Unknown task status", "taskId", taskID, "status", task.Status)
			}
		}
	}
}

// HealthCheck verifies the vision service is available
func (c *VisionOCRClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// toRegions prefers per-line output; plain text is split on newlines and
// every line gets the overall confidence and no geometry.
func toRegions(data *VisionOCRData) []processor.TextRegion {
	if len(data.Lines) > 0 {
		regions := make([]processor.TextRegion, 0, len(data.Lines))
		for _, l := range data.Lines {
			regions = append(regions, processor.TextRegion{
				Text:       l.Text,
				Confidence: percentToUnit(l.Confidence),
				BoundingBox: processor.BoundingBox{
					X:      l.BoundingBox.X,
					Y:      l.BoundingBox.Y,
					Width:  l.BoundingBox.Width,
					Height: l.BoundingBox.Height,
				},
			})
		}
		return regions
	}

	var regions []processor.TextRegion
	for _, line := range strings.Split(data.Text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		regions = append(regions, processor.TextRegion{
			Text:       strings.TrimSpace(line),
			Confidence: percentToUnit(data.Confidence),
		})
	}
	return regions
}

// percentToUnit accepts both 0-1 and 0-100 confidence scales
func percentToUnit(c float64) float64 {
	if c > 1 {
		return c / 100
	}
	return c
}
