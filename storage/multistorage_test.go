package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, id interfaces.ArtifactID, data []byte) error {
	args := m.Called(ctx, id, data)
	return args.Error(0)
}

func (m *MockStorageBackend) Exists(ctx context.Context, id interfaces.ArtifactID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				mockStorage := &MockStorageBackend{name: fmt.Sprintf("mock-A%x", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, testLogger())

			result := multi.Available(context.Background())
			assert.Equal(t, tt.expected, result)

			for _, backend := range backends {
				mockStorage := backend.(*MockStorageBackend)
				mockStorage.AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	testID := interfaces.ArtifactID("0b6f3f55-64f3-4bd4-9d3d-5cf0f8f2a4b1")
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StorageBackend
		expectedData  []byte
		expectedError error
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID).Return(testData, nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				// This mock should not be called as the first one succeeds

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID).Return(nil, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID).Return(testData, nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID).Return(nil, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID).Return(nil, interfaces.ErrArtifactNotFound)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrStoreUnavailable,
		},
		{
			name: "missing everywhere",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Fetch", mock.Anything, testID).Return(nil, interfaces.ErrArtifactNotFound)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrArtifactNotFound,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				// Fetch should not be called

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Fetch", mock.Anything, testID).Return(testData, nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "nothing available",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				return []interfaces.StorageBackend{mock1}
			},
			expectedError: interfaces.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, testLogger())

			data, err := multi.Fetch(context.Background(), testID)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, backend := range backends {
				mock := backend.(*MockStorageBackend)
				mock.AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	testID := interfaces.ArtifactID("0b6f3f55-64f3-4bd4-9d3d-5cf0f8f2a4b1")
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StorageBackend
		expectedError bool
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testID, testData).Return(nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testID, testData).Return(nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
		},
		{
			name: "some backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testID, testData).Return(nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testID, testData).Return(testErr)

				return []interfaces.StorageBackend{mock1, mock2}
			},
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Store", mock.Anything, testID, testData).Return(testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testID, testData).Return(testErr)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: true,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)
				// Store should not be called

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Store", mock.Anything, testID, testData).Return(nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, testLogger())

			err := multi.Store(context.Background(), testID, testData)

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
			} else {
				assert.NoError(t, err)
			}

			for _, backend := range backends {
				mock := backend.(*MockStorageBackend)
				mock.AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Exists(t *testing.T) {
	testID := interfaces.ArtifactID("0b6f3f55-64f3-4bd4-9d3d-5cf0f8f2a4b1")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StorageBackend
		expected      bool
		expectedError error
	}{
		{
			name: "second backend has it",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Exists", mock.Anything, testID).Return(false, nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Exists", mock.Anything, testID).Return(true, nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expected: true,
		},
		{
			name: "one errors, another has it",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Exists", mock.Anything, testID).Return(false, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Exists", mock.Anything, testID).Return(true, nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expected: true,
		},
		{
			name: "none has it",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Exists", mock.Anything, testID).Return(false, nil)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expected: false,
		},
		{
			name: "all unavailable",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(false)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrStoreUnavailable,
		},
		{
			name: "one errors, none has it",
			setupMocks: func() []interfaces.StorageBackend {
				mock1 := &MockStorageBackend{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("Exists", mock.Anything, testID).Return(false, testErr)

				mock2 := &MockStorageBackend{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("Exists", mock.Anything, testID).Return(false, nil)

				return []interfaces.StorageBackend{mock1, mock2}
			},
			expectedError: interfaces.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, testLogger())

			ok, err := multi.Exists(context.Background(), testID)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, ok)

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_ExistsMatchesFetchWhenUnavailable(t *testing.T) {
	testID := interfaces.ArtifactID("0b6f3f55-64f3-4bd4-9d3d-5cf0f8f2a4b1")

	down := &MockStorageBackend{name: "mock-A"}
	down.On("Available", mock.Anything).Return(false)
	multi := NewMultiStorageBackend([]interfaces.StorageBackend{down}, testLogger())

	_, fetchErr := multi.Fetch(context.Background(), testID)
	assert.ErrorIs(t, fetchErr, interfaces.ErrStoreUnavailable)

	ok, existsErr := multi.Exists(context.Background(), testID)
	assert.False(t, ok)
	assert.ErrorIs(t, existsErr, interfaces.ErrStoreUnavailable)
}

func TestMultiStorageBackend_FetchVerified(t *testing.T) {
	testID := interfaces.ArtifactID("0b6f3f55-64f3-4bd4-9d3d-5cf0f8f2a4b1")
	good := []byte("intact envelope")
	bad := []byte("corrupt envelope")
	checksum := Checksum(good)

	t.Run("skips corrupt copy", func(t *testing.T) {
		mock1 := &MockStorageBackend{name: "mock-A"}
		mock1.On("Available", mock.Anything).Return(true)
		mock1.On("Fetch", mock.Anything, testID).Return(bad, nil)

		mock2 := &MockStorageBackend{name: "mock-B"}
		mock2.On("Available", mock.Anything).Return(true)
		mock2.On("Fetch", mock.Anything, testID).Return(good, nil)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1, mock2}, testLogger())
		data, err := multi.FetchVerified(context.Background(), testID, checksum)
		assert.NoError(t, err)
		assert.Equal(t, good, data)
	})

	t.Run("every copy corrupt or missing", func(t *testing.T) {
		mock1 := &MockStorageBackend{name: "mock-A"}
		mock1.On("Available", mock.Anything).Return(true)
		mock1.On("Fetch", mock.Anything, testID).Return(bad, nil)

		mock2 := &MockStorageBackend{name: "mock-B"}
		mock2.On("Available", mock.Anything).Return(true)
		mock2.On("Fetch", mock.Anything, testID).Return(nil, interfaces.ErrArtifactNotFound)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1, mock2}, testLogger())
		_, err := multi.FetchVerified(context.Background(), testID, checksum)
		assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
	})

	t.Run("plain fetch does not verify", func(t *testing.T) {
		mock1 := &MockStorageBackend{name: "mock-A"}
		mock1.On("Available", mock.Anything).Return(true)
		mock1.On("Fetch", mock.Anything, testID).Return(bad, nil)

		multi := NewMultiStorageBackend([]interfaces.StorageBackend{mock1}, testLogger())
		data, err := multi.Fetch(context.Background(), testID)
		assert.NoError(t, err)
		assert.Equal(t, bad, data)
	})
}
