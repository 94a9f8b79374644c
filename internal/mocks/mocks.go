// Package mocks provides testify mocks of the pipeline capabilities
package mocks

import (
	"context"
	"image"

	"github.com/Priyanka-collab/passport-photo-generator/pkg/enhance"
	"github.com/Priyanka-collab/passport-photo-generator/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockFaceAnalyzer is a mock face analyzer
type MockFaceAnalyzer struct {
	mock.Mock
}

// Detect mocks face detection
func (m *MockFaceAnalyzer) Detect(ctx context.Context, img image.Image) (*types.FaceDetection, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.FaceDetection), args.Error(1)
}

// MockSegmenter is a mock person segmenter
type MockSegmenter struct {
	mock.Mock
}

// Segment mocks segmentation
func (m *MockSegmenter) Segment(ctx context.Context, img image.Image) (*types.SegmentationMask, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.SegmentationMask), args.Error(1)
}

// MockGateway is a mock enhancement gateway
type MockGateway struct {
	mock.Mock
}

// Enhance mocks an enhancement call
func (m *MockGateway) Enhance(ctx context.Context, req enhance.Request) enhance.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(enhance.Result)
}

// MockVisionClient is a mock vision-language model client
type MockVisionClient struct {
	mock.Mock
}

// SimpleQuery mocks a model query
func (m *MockVisionClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	args := m.Called(ctx, model, prompt, imgB64)
	return args.String(0), args.Error(1)
}
