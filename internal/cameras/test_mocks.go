package cameras

import (
	"context"
	"sync"

	"github.com/technosupport/ts-vms-monitor/internal/backend"
	"github.com/technosupport/ts-vms-monitor/internal/data"
)

// MockClient records calls and answers from its func fields.
type MockClient struct {
	PatchFunc   func(ctx context.Context, id string, update backend.CameraUpdate) (data.Camera, error)
	ReplaceFunc func(ctx context.Context, cam data.Camera) (data.Camera, error)
	DeleteFunc  func(ctx context.Context, id string) error

	mu    sync.Mutex
	Calls map[string]int
}

func (m *MockClient) count(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[name]++
}

func (m *MockClient) PatchCamera(ctx context.Context, id string, update backend.CameraUpdate) (data.Camera, error) {
	m.count("PatchCamera")
	if m.PatchFunc != nil {
		return m.PatchFunc(ctx, id, update)
	}
	return data.Camera{}, nil
}

func (m *MockClient) ReplaceCamera(ctx context.Context, cam data.Camera) (data.Camera, error) {
	m.count("ReplaceCamera")
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, cam)
	}
	return cam, nil
}

func (m *MockClient) DeleteCamera(ctx context.Context, id string) error {
	m.count("DeleteCamera")
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockRefresher records requested kinds and answers with Errs.
type MockRefresher struct {
	mu    sync.Mutex
	Kinds [][]data.Kind
	Errs  map[data.Kind]error
}

func (m *MockRefresher) RefreshAll(ctx context.Context, kinds ...data.Kind) map[data.Kind]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Kinds = append(m.Kinds, kinds)
	out := make(map[data.Kind]error, len(kinds))
	for _, k := range kinds {
		out[k] = m.Errs[k]
	}
	return out
}
