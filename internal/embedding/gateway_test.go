package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine produces deterministic vectors and counts model calls.
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	seen  [][]string
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, append([]string(nil), texts...))
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, 4)
		for j := range vec {
			vec[j] = float32(len(t)+j) / 10
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 4 }
func (f *fakeEngine) Name() string    { return "fake:test" }

func TestGatewayEmptyInputZeroVector(t *testing.T) {
	g := NewGateway(&fakeEngine{}, NewMemoryCache(), time.Hour, 2, nil)
	vec, err := g.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	for _, v := range vec {
		require.Zero(t, v)
	}
}

func TestGatewayCachesHits(t *testing.T) {
	engine := &fakeEngine{}
	g := NewGateway(engine, NewMemoryCache(), time.Hour, 2, nil)
	ctx := context.Background()

	first, err := g.Embed(ctx, "học phí")
	require.NoError(t, err)
	second, err := g.Embed(ctx, "học phí")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, engine.calls, "second call should hit cache")
}

func TestGatewayBatchSubmitsOnlyMisses(t *testing.T) {
	engine := &fakeEngine{}
	g := NewGateway(engine, NewMemoryCache(), time.Hour, 2, nil)
	ctx := context.Background()

	_, err := g.Embed(ctx, "bbb")
	require.NoError(t, err)

	vecs, err := g.EmbedBatch(ctx, []string{"a", "bbb", "", "cccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	// Only the two misses went to the model.
	require.Equal(t, 2, engine.calls)
	require.Equal(t, []string{"a", "cccc"}, engine.seen[1])

	// Order preserved: vec lengths track input text lengths.
	require.Equal(t, float32(1)/10, vecs[0][0])
	require.Equal(t, float32(3)/10, vecs[1][0])
	require.Zero(t, vecs[2][0])
	require.Equal(t, float32(4)/10, vecs[3][0])
}

func TestGatewayNormalizedCacheKey(t *testing.T) {
	engine := &fakeEngine{}
	g := NewGateway(engine, NewMemoryCache(), time.Hour, 2, nil)
	ctx := context.Background()

	_, err := g.Embed(ctx, "xin   nghỉ học")
	require.NoError(t, err)
	_, err = g.Embed(ctx, "xin nghỉ  học")
	require.NoError(t, err)
	require.Equal(t, 1, engine.calls, "whitespace variants share a cache entry")
}

func TestCacheKeyIncludesEngine(t *testing.T) {
	a := cacheKey("genai:gemini-embedding-001", "hello")
	b := cacheKey("ollama:embeddinggemma", "hello")
	require.NotEqual(t, a, b)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	got := decodeVector(encodeVector(vec))
	require.Equal(t, vec, got)
	require.Nil(t, decodeVector([]byte{1, 2, 3}))
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGatewayConcurrentBatches(t *testing.T) {
	engine := &fakeEngine{}
	g := NewGateway(engine, NewMemoryCache(), time.Hour, 4, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Embed(ctx, fmt.Sprintf("câu hỏi %d", i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
