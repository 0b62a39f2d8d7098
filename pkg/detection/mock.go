package detection

import "sync"

// MockDetector returns scripted results for testing.
type MockDetector struct {
	mu      sync.Mutex
	Objects []Object
	Err     error
	calls   int
	closed  bool
}

// NewMockDetector creates a mock that always reports objs.
func NewMockDetector(objs ...Object) *MockDetector {
	return &MockDetector{Objects: objs}
}

// Detect implements Detector.
func (m *MockDetector) Detect(jpeg []byte) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(jpeg) == 0 {
		return nil, ErrDecode
	}
	return append([]Object(nil), m.Objects...), nil
}

// Close implements Detector.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
