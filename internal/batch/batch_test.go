package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	apperrors "github.com/adverant/nexus/labelverify-worker/internal/errors"
	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

// stubVerifier decides the outcome from the brand name
type stubVerifier struct {
	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
	delay    func(brand string) time.Duration
}

func (s *stubVerifier) Verify(ctx context.Context, req *processor.VerifyRequest) (*processor.VerificationResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&s.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&s.maxSeen, seen, n) {
			break
		}
	}

	brand := req.Application.BrandName
	if s.delay != nil {
		time.Sleep(s.delay(brand))
	}
	switch brand {
	case "panic":
		panic("boom")
	case "engine-down":
		return nil, apperrors.NewEngineExhaustedError("stub", 3, nil)
	case "mismatch":
		return &processor.VerificationResult{OverallStatus: processor.StatusFail}, nil
	}
	return &processor.VerificationResult{OverallStatus: processor.StatusPass}, nil
}

func (s *stubVerifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pairEntry(folder, brand string) archive.Entry {
	return archive.Entry{
		Folder:      folder,
		LabelName:   "label.png",
		Label:       []byte("not decoded by the stub"),
		Application: []byte(`{"brand_name": "` + brand + `"}`),
	}
}

func TestRunPairedMode(t *testing.T) {
	v := &stubVerifier{}
	entries := []archive.Entry{
		pairEntry("a", "Stone's Throw"),
		{Folder: "b", Application: []byte(`{"brand_name":"B"}`)},
		{Folder: "c", LabelName: "label.png", Label: []byte("x")},
		{Folder: "d", LabelName: "label.png", Label: []byte("x"), Application: []byte(`{"abv":"12%"}`)},
		pairEntry("e", "mismatch"),
		pairEntry("f", "engine-down"),
	}

	res, err := NewProcessor(v).Run(context.Background(), entries, Options{Concurrency: 2})
	require.NoError(t, err)

	require.Len(t, res.Results, len(entries))
	assert.Equal(t, len(entries), res.Count)
	assert.NotEmpty(t, res.BatchID)
	assert.False(t, res.Cancelled)
	assert.Zero(t, res.Skipped)

	want := []struct {
		status string
		kind   apperrors.Kind
	}{
		{"PASS", ""},
		{StatusError, apperrors.KindPairing},
		{StatusError, apperrors.KindPairing},
		{StatusError, apperrors.KindValidation},
		{"FAIL", ""},
		{StatusError, apperrors.KindEngineUnavailable},
	}
	for i, w := range want {
		pr := res.Results[i]
		assert.Equal(t, i, pr.Index)
		assert.Equal(t, entries[i].Folder, pr.Folder)
		assert.Equal(t, w.status, pr.Status, "entry %d", i)
		if w.kind == "" {
			assert.Nil(t, pr.Error, "entry %d", i)
			assert.NotNil(t, pr.Result, "entry %d", i)
			continue
		}
		require.NotNil(t, pr.Error, "entry %d", i)
		assert.Equal(t, w.kind, pr.Error.Kind, "entry %d", i)
		assert.Nil(t, pr.Result, "entry %d", i)
	}
	assert.Equal(t, "Stone's Throw", res.Results[0].Application.BrandName)
	assert.Equal(t, 3, v.Calls())
	assert.Equal(t, map[string]int{"PASS": 1, "FAIL": 1, StatusError: 4}, res.Tally())
}

func TestRunSharedMode(t *testing.T) {
	v := &stubVerifier{}
	shared := processor.NewApplicationRecord("Stone's Throw", "13.5%", "750 mL")
	entries := []archive.Entry{
		{LabelName: "one.png", Label: []byte("1")},
		{LabelName: "two.png", Label: []byte("2"), Application: []byte(`{"brand_name":"ignored"}`)},
	}

	res, err := NewProcessor(v).Run(context.Background(), entries, Options{SharedApplication: &shared})
	require.NoError(t, err)
	for _, pr := range res.Results {
		assert.Equal(t, "PASS", pr.Status)
		assert.Equal(t, "Stone's Throw", pr.Application.BrandName)
	}
}

func TestRunRejectsInvalidSharedApplication(t *testing.T) {
	v := &stubVerifier{}
	shared := processor.NewApplicationRecord("", "13.5%", "750 mL")

	_, err := NewProcessor(v).Run(context.Background(), []archive.Entry{pairEntry("a", "x")}, Options{SharedApplication: &shared})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Zero(t, v.Calls())
}

func TestRunPreservesOrderAndBoundsConcurrency(t *testing.T) {
	v := &stubVerifier{delay: func(brand string) time.Duration {
		if brand == "slow" {
			return 30 * time.Millisecond
		}
		return time.Millisecond
	}}

	var entries []archive.Entry
	for i := 0; i < 12; i++ {
		brand := "fast"
		if i%3 == 0 {
			brand = "slow"
		}
		entries = append(entries, pairEntry(string(rune('a'+i)), brand))
	}

	res, err := NewProcessor(v).Run(context.Background(), entries, Options{Concurrency: 3})
	require.NoError(t, err)
	for i, pr := range res.Results {
		assert.Equal(t, i, pr.Index)
		assert.Equal(t, entries[i].Folder, pr.Folder)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&v.maxSeen), int32(3))
	assert.Equal(t, 12, v.Calls())
}

func TestRunIsolatesPanics(t *testing.T) {
	entries := []archive.Entry{pairEntry("a", "ok"), pairEntry("b", "panic"), pairEntry("c", "ok")}

	res, err := NewProcessor(&stubVerifier{}).Run(context.Background(), entries, Options{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, "PASS", res.Results[0].Status)
	assert.Equal(t, StatusError, res.Results[1].Status)
	assert.Equal(t, apperrors.KindInternal, res.Results[1].Error.Kind)
	assert.Equal(t, "PASS", res.Results[2].Status)
}

func TestRunMaxPairs(t *testing.T) {
	v := &stubVerifier{}
	var entries []archive.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, pairEntry(string(rune('a'+i)), "ok"))
	}

	res, err := NewProcessor(v).Run(context.Background(), entries, Options{MaxPairs: 3})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 5, res.Count)
	for i, pr := range res.Results {
		assert.Equal(t, i, pr.Index)
		if i < 3 {
			assert.Equal(t, "PASS", pr.Status)
			continue
		}
		require.NotNil(t, pr.Error)
		assert.Equal(t, apperrors.KindCancelled, pr.Error.Kind)
	}
	assert.Equal(t, "e", res.Results[4].Folder)
	assert.Equal(t, 3, v.Calls())
}

func TestRunCancelledContext(t *testing.T) {
	v := &stubVerifier{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewProcessor(v).Run(ctx, []archive.Entry{pairEntry("a", "ok"), pairEntry("b", "ok")}, Options{})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, v.Calls())
	assert.Contains(t, res.Results[0].Error.Message, "batch cancelled")
}

func TestRunTimeBudget(t *testing.T) {
	v := &stubVerifier{delay: func(string) time.Duration { return 40 * time.Millisecond }}
	var entries []archive.Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, pairEntry(string(rune('a'+i)), "ok"))
	}

	res, err := NewProcessor(v).Run(context.Background(), entries, Options{Concurrency: 1, TimeBudget: 60 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "PASS", res.Results[0].Status, "the first pair starts before the budget runs out")
	assert.Equal(t, len(entries)-v.Calls(), res.Skipped)
	assert.Equal(t, StatusError, res.Results[len(entries)-1].Status)
}

func TestThumbnail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 880, 440))))

	thumb, ok := Thumbnail(buf.Bytes(), 0)
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(thumb)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 220, cfg.Width)
	assert.Equal(t, 110, cfg.Height)

	_, ok = Thumbnail([]byte("junk"), 0)
	assert.False(t, ok)
}

func TestRunAttachesThumbnail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 40))))
	entry := pairEntry("a", "ok")
	entry.Label = buf.Bytes()

	res, err := NewProcessor(&stubVerifier{}).Run(context.Background(), []archive.Entry{entry, pairEntry("b", "ok")}, Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Results[0].Thumbnail)
	assert.Nil(t, res.Results[1].Thumbnail)
}
