// Package compreface detects faces through a CompreFace detection service
package compreface

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// BoundingBox is a face rectangle in pixels
type BoundingBox struct {
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
	Probability float64 `json:"probability"`
}

// FaceDetection is one face reported by the detection endpoint. With the
// landmarks plugin, Landmarks holds five points: left eye, right eye, nose and
// the two mouth corners.
type FaceDetection struct {
	Box       BoundingBox `json:"box"`
	Landmarks [][]float64 `json:"landmarks"`
}

// DetectionResponse is the response from face detection API
type DetectionResponse struct {
	Result          []FaceDetection   `json:"result"`
	PluginsVersions map[string]string `json:"plugins_versions"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Config holds CompreFace connection settings
type Config struct {
	URL    string `json:"url"`
	APIKey string `json:"-"`
	// DetProbThreshold is the minimum detection probability (0 uses the server default)
	DetProbThreshold float64       `json:"det_prob_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// Client handles API calls to a CompreFace detection service
type Client struct {
	config Config
	http   *resty.Client
	log    logrus.FieldLogger
}

// NewClient creates a new CompreFace API client
func NewClient(config Config, log logrus.FieldLogger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	config.URL = strings.TrimRight(config.URL, "/")

	http := resty.New().
		SetBaseURL(config.URL).
		SetTimeout(config.Timeout).
		SetHeader("x-api-key", config.APIKey)

	return &Client{config: config, http: http, log: log}
}

// DetectFacesFromBytes detects faces in image bytes
// POST /api/v1/detection/detect
func (c *Client) DetectFacesFromBytes(ctx context.Context, imageBytes []byte, filename string) (*DetectionResponse, error) {
	params := map[string]string{"face_plugins": "landmarks"}
	if c.config.DetProbThreshold > 0 {
		params["det_prob_threshold"] = strconv.FormatFloat(c.config.DetProbThreshold, 'f', -1, 64)
	}

	var detection DetectionResponse
	var apiErr errorResponse

	c.log.WithField("url", c.config.URL).Trace("DetectFacesFromBytes: POST /api/v1/detection/detect")
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetFileReader("file", filename, bytes.NewReader(imageBytes)).
		SetResult(&detection).
		SetError(&apiErr).
		Post("/api/v1/detection/detect")
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.IsError() {
		// CompreFace answers 400 with code 28 when the image has no face
		if apiErr.Code == 28 {
			return &DetectionResponse{}, nil
		}
		msg := apiErr.Message
		if msg == "" {
			msg = string(resp.Body())
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode(), msg)
	}

	c.log.Debugf("DetectFacesFromBytes: Found %d face(s)", len(detection.Result))
	return &detection, nil
}
