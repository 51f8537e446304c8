package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prixroxx/RupAI/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func respondEmbeddings(w http.ResponseWriter, vectors [][]float32) {
	type item struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, len(vectors))
	for i, v := range vectors {
		data[i] = item{Index: i, Embedding: v}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func newTestClient(baseURL string, batchSize, maxRetries int) Client {
	return NewClient(config.EmbeddingConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "test-embed",
		Dimensions: 3,
		BatchSize:  batchSize,
		MaxRetries: maxRetries,
	})
}

func TestEmbedText_Success(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-embed", req.Model)
		assert.Equal(t, []string{"你好"}, req.Input)

		respondEmbeddings(w, [][]float32{{0.1, 0.2, 0.3}})
	})

	vec, err := newTestClient(srv.URL, 16, 0).EmbedText(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedText_ReordersByIndex(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		// data 乱序返回，客户端按 index 字段归位
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[2]},{"index":0,"embedding":[1]}]}`)
	})

	results := newTestClient(srv.URL, 16, 0).EmbedBatch(context.Background(), []string{"a", "b"})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, []float32{1}, results[0].Vector)
	assert.Equal(t, []float32{2}, results[1].Vector)
}

func TestEmbedText_RetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		respondEmbeddings(w, [][]float32{{1, 2, 3}})
	})

	vec, err := newTestClient(srv.URL, 16, 2).EmbedText(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbedText_NonRetryableFailure(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := newTestClient(srv.URL, 16, 3).EmbedText(context.Background(), "q")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransient)
	// 4xx 不重试
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbedText_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := newTestClient(srv.URL, 16, 2).EmbedText(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	// 首次尝试 + 2 次重试
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEmbedBatch_SubBatching(t *testing.T) {
	var batches [][]string
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, req.Input)

		vectors := make([][]float32, len(req.Input))
		for i := range vectors {
			vectors[i] = []float32{float32(len(req.Input[i]))}
		}
		respondEmbeddings(w, vectors)
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	results := newTestClient(srv.URL, 2, 0).EmbedBatch(context.Background(), texts)

	// 批大小 2，五条文本分三个子批
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "bb"}, batches[0])
	assert.Equal(t, []string{"ccc", "dddd"}, batches[1])
	assert.Equal(t, []string{"eeeee"}, batches[2])

	require.Len(t, results, 5)
	for i, r := range results {
		require.NoError(t, r.Err, "result %d", i)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, []float32{float32(len(texts[i]))}, r.Vector)
	}
}

func TestEmbedBatch_SubBatchFailureIsIsolated(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// 第二个子批（包含 "ccc"）返回不可重试错误
		if atomic.AddInt32(&calls, 1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		vectors := make([][]float32, len(req.Input))
		for i := range vectors {
			vectors[i] = []float32{1}
		}
		respondEmbeddings(w, vectors)
	})

	results := newTestClient(srv.URL, 2, 0).EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.Len(t, results, 5)

	// 失败只波及失败子批的下标，其余子批正常
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Error(t, results[2].Err)
	assert.Error(t, results[3].Err)
	assert.NoError(t, results[4].Err)
	assert.Nil(t, results[2].Vector)
	assert.NotNil(t, results[4].Vector)
}

func TestCall_VectorCountMismatch(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondEmbeddings(w, [][]float32{{1}})
	})

	results := newTestClient(srv.URL, 16, 0).EmbedBatch(context.Background(), []string{"a", "b"})
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)
}
