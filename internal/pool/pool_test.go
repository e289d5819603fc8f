package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvance/tgfs/internal/account"
)

// memClient is an in-memory account.Client fake for pool tests.
type memClient struct {
	mu     sync.Mutex
	data   map[string][]byte
	failAll bool
}

func newMemClient() *memClient { return &memClient{data: make(map[string][]byte)} }

func (m *memClient) PutBlock(_ context.Context, key string, data []byte) error {
	if m.failAll {
		return assertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *memClient) GetBlock(_ context.Context, key string) ([]byte, error) {
	if m.failAll {
		return nil, assertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, assertErr
	}
	return v, nil
}

func (m *memClient) DeleteBlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memClient) HeadBlock(_ context.Context, key string) (bool, error) {
	if m.failAll {
		return false, assertErr
	}
	return true, nil
}

var assertErr = &testError{"simulated failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTestPool(t *testing.T, n int, dataShards, parityShards int) (*Pool, []*memClient) {
	t.Helper()
	var backends []Backend
	var clients []*memClient
	for i := 0; i < n; i++ {
		c := newMemClient()
		clients = append(clients, c)
		backends = append(backends, Backend{ID: uint8(i + 1), Client: c})
	}
	p, err := New(backends, Config{DataShards: dataShards, ParityShards: parityShards})
	require.NoError(t, err)
	return p, clients
}

func TestNewRejectsEmptyPool(t *testing.T) {
	_, err := New(nil, Config{DataShards: 2, ParityShards: 1})
	assert.Error(t, err)
}

func TestGetBackendBounds(t *testing.T) {
	p, _ := newTestPool(t, 3, 2, 1)
	_, ok := p.GetBackend(99)
	assert.False(t, ok)
	_, ok = p.GetBackend(1)
	assert.True(t, ok)
}

func TestUploadAndDownloadStripeRoundtrip(t *testing.T) {
	p, _ := newTestPool(t, 6, 4, 2)
	shards := make([][]byte, 6)
	for i := range shards {
		shards[i] = []byte{byte(i), byte(i + 1)}
	}

	info, err := p.UploadStripe(context.Background(), shards, "stripe-1")
	require.NoError(t, err)
	assert.True(t, info.CanReconstruct())

	got, err := p.DownloadBlocks(context.Background(), info)
	require.NoError(t, err)
	for _, loc := range info.Blocks {
		assert.Equal(t, shards[loc.BlockIndex], got[loc.BlockIndex])
	}
}

func TestUploadStripeFailsBelowDataShards(t *testing.T) {
	p, clients := newTestPool(t, 6, 4, 2)
	for i := 0; i < 3; i++ { // fail 3 accounts, leaving only 3 < K=4
		clients[i].failAll = true
	}
	shards := make([][]byte, 6)
	for i := range shards {
		shards[i] = []byte{byte(i)}
	}

	_, err := p.UploadStripe(context.Background(), shards, "stripe-2")
	assert.Error(t, err)
}

func TestDownloadBlocksFailsWhenUnrecoverable(t *testing.T) {
	p, clients := newTestPool(t, 3, 2, 1)
	shards := [][]byte{{1}, {2}, {3}}

	info, err := p.UploadStripe(context.Background(), shards, "stripe-3")
	require.NoError(t, err)

	for _, c := range clients {
		c.failAll = true
	}

	_, err = p.DownloadBlocks(context.Background(), info)
	assert.Error(t, err)
}

func TestUploadStripeRecordsFailedBlockWithEmptyObjectKey(t *testing.T) {
	p, clients := newTestPool(t, 6, 4, 2)
	clients[2].failAll = true // account 3 fails, but 5 of 6 still succeed

	shards := make([][]byte, 6)
	for i := range shards {
		shards[i] = []byte{byte(i)}
	}

	info, err := p.UploadStripe(context.Background(), shards, "stripe-degraded")
	require.NoError(t, err)
	require.Len(t, info.Blocks, 6)

	var sawEmpty int
	for _, b := range info.Blocks {
		if b.ObjectKey == "" {
			sawEmpty++
			assert.Equal(t, uint8(3), b.AccountID)
		}
	}
	assert.Equal(t, 1, sawEmpty)
}

func TestCanOperateReflectsHealth(t *testing.T) {
	p, _ := newTestPool(t, 3, 2, 1)
	assert.True(t, p.CanOperate())

	for i := 0; i < account.DefaultMaxFailures; i++ {
		p.Health().RecordFailure(2, "err")
		p.Health().RecordFailure(3, "err")
	}
	assert.False(t, p.CanOperate())
}
