package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prediction-engine/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func sampleRequest() *NextLineRequest {
	return &NextLineRequest{
		Disease:            "myeloma",
		DetectedResistance: []string{"MM_HIGH_RISK_GENE", "DIS3"},
		CurrentRegimen:     "VRd",
		CurrentDrugClass:   "proteasome_inhibitor",
		TreatmentLine:      2,
		PriorTherapies:     []string{"imid"},
		PatientID:          "PT-001",
	}
}

func TestPlaybookClient_GetNextLineOptions(t *testing.T) {
	var received NextLineRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/next-line-options", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(NextLineResponse{
			Alternatives: []domain.NextLineOption{
				{Drug: "daratumumab", DrugClass: "anti_cd38", EvidenceLevel: "A", Priority: 1, SourceGene: "DIS3"},
			},
			DownstreamHandoffs: map[string]Handoff{
				"trial_matcher": {Action: "search", Payload: map[string]any{"gene": "DIS3"}},
			},
		})
	}))
	defer server.Close()

	client := NewPlaybookClient(PlaybookConfig{BaseURL: server.URL + "/", APIKey: "secret", RateLimit: 100}, nil, testLogger())

	resp, err := client.GetNextLineOptions(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "daratumumab", resp.Alternatives[0].Drug)
	assert.Equal(t, "search", resp.DownstreamHandoffs["trial_matcher"].Action)

	assert.Equal(t, "myeloma", received.Disease)
	assert.Equal(t, 2, received.TreatmentLine)
	assert.Equal(t, []string{"imid"}, received.PriorTherapies)
}

func TestPlaybookClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewPlaybookClient(PlaybookConfig{BaseURL: server.URL, RateLimit: 100}, nil, testLogger())

	_, err := client.GetNextLineOptions(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestPlaybookClient_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewPlaybookClient(PlaybookConfig{
		BaseURL:     server.URL,
		RateLimit:   100,
		OpenTimeout: time.Minute,
	}, nil, testLogger())

	for i := 0; i < 3; i++ {
		_, err := client.GetNextLineOptions(context.Background(), sampleRequest())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.GetNextLineOptions(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrPlaybookUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPlaybookClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewPlaybookClient(PlaybookConfig{BaseURL: server.URL, RateLimit: 100}, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetNextLineOptions(ctx, sampleRequest())
	assert.Error(t, err)
}

func TestPlaybookCacheKey(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	b.PatientID = "PT-999"
	b.DetectedResistance = []string{"DIS3", "MM_HIGH_RISK_GENE"}
	b.PriorTherapies = []string{"IMiD"}

	assert.Equal(t, PlaybookCacheKey(a), PlaybookCacheKey(b))

	c := sampleRequest()
	c.TreatmentLine = 3
	assert.NotEqual(t, PlaybookCacheKey(a), PlaybookCacheKey(c))
	assert.Contains(t, PlaybookCacheKey(a), playbookKeyPrefix)
}

func TestPlaybookClient_WithRedisCache(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis cache tests")
	}

	cache, err := NewPlaybookCache(domain.CacheConfig{RedisURL: redisURL, DefaultTTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Invalidate(context.Background()))

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(NextLineResponse{
			Alternatives: []domain.NextLineOption{{Drug: "selinexor", DrugClass: "xpo1_inhibitor", Priority: 1}},
		})
	}))
	defer server.Close()

	client := NewPlaybookClient(PlaybookConfig{BaseURL: server.URL, RateLimit: 100}, cache, testLogger())

	for i := 0; i < 2; i++ {
		resp, err := client.GetNextLineOptions(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, "selinexor", resp.Alternatives[0].Drug)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
