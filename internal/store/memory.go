package store

type memoryBackend struct {
	data map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (m *memoryBackend) get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *memoryBackend) commit(writes map[string][]byte) error {
	for k, v := range writes {
		m.data[k] = v
	}
	return nil
}

func (m *memoryBackend) close() error { return nil }
