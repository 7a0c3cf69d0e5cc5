package lifecycle

import (
	"context"
	"sync"

	"github.com/fogwarden/agent/internal/runtime"
)

// mockRuntime implements runtime.Runtime for Lifecycle Engine tests,
// call-tracking every invocation the way the teacher's mockDocker does.
type mockRuntime struct {
	mu sync.Mutex

	containers map[string]runtime.Container // workload uuid -> container
	localImage map[string]bool

	pullCalls   []string
	pullErr     error
	createCalls []string
	createErr   error
	createID    string
	startCalls  []string
	startErr    error
	stopCalls   []string
	stopErr     error
	removeCalls []string
	removeErr   error

	removeImageCalls []string
	removeImageErr   error
}

func newMockRuntime() *mockRuntime {
	return &mockRuntime{
		containers: make(map[string]runtime.Container),
		localImage: make(map[string]bool),
	}
}

func (m *mockRuntime) ListContainers(_ context.Context) ([]runtime.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]runtime.Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockRuntime) GetContainer(_ context.Context, workloadUUID string) (runtime.Container, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[workloadUUID]
	return c, ok, nil
}

func (m *mockRuntime) FindLocalImage(_ context.Context, image string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localImage[image], nil
}

func (m *mockRuntime) PullImage(_ context.Context, image string, _ runtime.RegistryAuth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullCalls = append(m.pullCalls, image)
	return m.pullErr
}

func (m *mockRuntime) CreateContainer(_ context.Context, spec runtime.Spec, _ string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, spec.WorkloadUUID)
	if m.createErr != nil {
		return "", "", m.createErr
	}
	id := m.createID
	if id == "" {
		id = "container-" + spec.WorkloadUUID
	}
	imageID := "image-" + spec.WorkloadUUID
	m.containers[spec.WorkloadUUID] = runtime.Container{ID: id, ImageID: imageID, Status: "created"}
	return id, imageID, nil
}

func (m *mockRuntime) StartContainer(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls = append(m.startCalls, containerID)
	if m.startErr != nil {
		return m.startErr
	}
	for uuid, c := range m.containers {
		if c.ID == containerID {
			c.Status = "running"
			m.containers[uuid] = c
		}
	}
	return nil
}

func (m *mockRuntime) StopContainer(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, containerID)
	return m.stopErr
}

func (m *mockRuntime) IsContainerRunning(_ context.Context, containerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.containers {
		if c.ID == containerID {
			return c.Status == "running", nil
		}
	}
	return false, nil
}

func (m *mockRuntime) GetContainerStatus(_ context.Context, containerID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.containers {
		if c.ID == containerID {
			return c.Status, true, nil
		}
	}
	return "", false, nil
}

func (m *mockRuntime) GetContainerIPAddress(_ context.Context, containerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.containers {
		if c.ID == containerID {
			return c.IP, nil
		}
	}
	return "", nil
}

func (m *mockRuntime) RemoveContainer(_ context.Context, containerID, _ string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, containerID)
	if m.removeErr != nil {
		return m.removeErr
	}
	for uuid, c := range m.containers {
		if c.ID == containerID {
			delete(m.containers, uuid)
		}
	}
	return nil
}

func (m *mockRuntime) RemoveImageByID(_ context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeImageCalls = append(m.removeImageCalls, imageID)
	return m.removeImageErr
}

func (m *mockRuntime) Close() error { return nil }

var _ runtime.Runtime = (*mockRuntime)(nil)
