package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *VisionOCRClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewVisionOCRClient(srv.URL+"/", "en")
	c.pollInterval = 5 * time.Millisecond
	return c
}

func TestExtractWithLines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/internal/vision/extract-text", r.URL.Path)
		var req VisionOCRRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "base64", req.Format)
		assert.Equal(t, "line", req.Granularity)
		assert.Equal(t, "aW1n", req.Image)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"lines":[
			{"text":"STONE'S THROW","confidence":94,"boundingBox":{"x":10,"y":20,"width":300,"height":60}},
			{"text":"750 mL","confidence":0.9,"boundingBox":{"x":10,"y":900,"width":80,"height":20}}
		],"modelUsed":"test"}}`))
	})

	regions, err := c.Extract(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "STONE'S THROW", regions[0].Text)
	assert.InDelta(t, 0.94, regions[0].Confidence, 1e-9)
	assert.Equal(t, 60, regions[0].BoundingBox.Height)
	assert.Equal(t, 0.9, regions[1].Confidence)
	assert.Equal(t, "vision", c.Name())
}

func TestExtractPlainTextFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"text":"STONE'S THROW\n\n 13.5% ALC/VOL \n","confidence":0.8}}`))
	})

	regions, err := c.Extract(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "13.5% ALC/VOL", regions[1].Text)
	assert.Equal(t, 0.8, regions[1].Confidence)
	assert.True(t, regions[1].BoundingBox.Empty())
}

func TestExtractErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   apperrors.Kind
	}{
		{"unsupported media", http.StatusUnsupportedMediaType, `{"message":"bad image"}`, apperrors.KindDecode},
		{"unprocessable", http.StatusUnprocessableEntity, `{}`, apperrors.KindDecode},
		{"server error", http.StatusInternalServerError, `oops`, apperrors.KindEngineUnavailable},
		{"unsuccessful body", http.StatusOK, `{"success":false,"message":"model overloaded"}`, apperrors.KindEngineUnavailable},
		{"garbage body", http.StatusOK, `<html>`, apperrors.KindEngineUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Extract(context.Background(), []byte("img"))
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
}

func TestExtractAsyncTask(t *testing.T) {
	var polls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/internal/vision/extract-text":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"success":true,"data":{"taskId":"t-1"}}`))
		case "/api/tasks/t-1":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"success":true,"data":{"task":{"id":"t-1","status":"processing","progress":50}}}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"task":{"id":"t-1","status":"completed","result":{"text":"GOVERNMENT WARNING:","confidence":0.7}}}}`))
		default:
			http.NotFound(w, r)
		}
	})

	regions, err := c.Extract(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "GOVERNMENT WARNING:", regions[0].Text)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))
}

func TestExtractAsyncTaskFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tasks/t-2" {
			_, _ = w.Write([]byte(`{"success":true,"data":{"task":{"id":"t-2","status":"failed","error":"no model"}}}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"data":{"taskId":"t-2"}}`))
	})

	_, err := c.Extract(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindEngineUnavailable, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "no model")
}

func TestExtractHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"data":{"taskId":"never"}}`))
	})
	c.pollInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Extract(ctx, []byte("img"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealthCheck(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
	})
	assert.NoError(t, healthy.HealthCheck(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Error(t, down.HealthCheck(context.Background()))
}
