package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/GriffinCanCode/handsfree/internal/errors"
	"github.com/GriffinCanCode/handsfree/internal/resilience"
)

func TestBatchRespectsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	synth := SynthFunc(func(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(1+rand.IntN(5)) * time.Millisecond)
		i, _ := strconv.Atoi(text)
		return []byte{byte(i)}, nil
	})
	f := NewFetcher(synth, nil, 2, zaptest.NewLogger(t))

	var mu sync.Mutex
	got := map[int][]byte{}
	b := f.Begin(context.Background(), VoiceConfig{}, func(ctx context.Context, a Audio) error {
		mu.Lock()
		got[a.Index] = a.PCM
		mu.Unlock()
		return nil
	}, func(err error) { t.Errorf("unexpected failure: %v", err) })

	for i := 0; i < 8; i++ {
		require.NoError(t, b.Submit(Chunk{Text: strconv.Itoa(i), Index: i}))
	}
	require.NoError(t, b.Wait())

	assert.Equal(t, 8, b.Submitted())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	require.Len(t, got, 8)
	for i := 0; i < 8; i++ {
		assert.Equal(t, []byte{byte(i)}, got[i])
	}
}

func TestBatchFailureCancelsSiblings(t *testing.T) {
	synth := SynthFunc(func(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
		if text == "bad" {
			return nil, errors.New("voice not found")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := NewFetcher(synth, nil, 3, zaptest.NewLogger(t))

	var reported []error
	var mu sync.Mutex
	b := f.Begin(context.Background(), VoiceConfig{}, func(context.Context, Audio) error { return nil }, func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})
	require.NoError(t, b.Submit(Chunk{Text: "slow", Index: 0}))
	require.NoError(t, b.Submit(Chunk{Text: "bad", Index: 1}))

	err := b.Wait()
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSynthesis, apperrors.KindOf(err))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Equal(t, apperrors.KindSynthesis, apperrors.KindOf(reported[0]))
}

func TestBatchCancellationIsNotReported(t *testing.T) {
	started := make(chan struct{}, 1)
	synth := SynthFunc(func(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := NewFetcher(synth, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	b := f.Begin(ctx, VoiceConfig{}, func(context.Context, Audio) error { return nil }, func(err error) {
		t.Errorf("cancellation reported as failure: %v", err)
	})
	require.NoError(t, b.Submit(Chunk{Text: "x"}))
	<-started
	cancel()

	err := b.Wait()
	assert.True(t, apperrors.IsCancellation(err))
	assert.Equal(t, resilience.Closed, f.Breaker().State())
}

type countingWarmer struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (w *countingWarmer) Warm(ctx context.Context, voice VoiceConfig) error {
	w.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	if w.fail.Load() {
		return errors.New("model lookup failed")
	}
	return nil
}

func TestWarmupSingleFlight(t *testing.T) {
	w := &countingWarmer{}
	warm := NewWarmup(w, VoiceConfig{Model: "tts-1"}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, warm.Ensure(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), w.calls.Load(), "concurrent callers share one warm-up")
	assert.True(t, warm.Ready())
	require.NoError(t, warm.Ensure(context.Background()))
	assert.Equal(t, int32(1), w.calls.Load())
}

func TestWarmupRetriesAfterFailure(t *testing.T) {
	w := &countingWarmer{}
	w.fail.Store(true)
	warm := NewWarmup(w, VoiceConfig{}, nil)

	assert.Error(t, warm.Ensure(context.Background()))
	assert.False(t, warm.Ready())

	w.fail.Store(false)
	assert.NoError(t, warm.Ensure(context.Background()))
	assert.Equal(t, int32(2), w.calls.Load())
}

func TestOpenAISynthesizer(t *testing.T) {
	var req openai.CreateSpeechRequest
	var modelLookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/audio/speech":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.Header().Set("Content-Type", "audio/pcm")
			_, _ = w.Write([]byte{1, 2, 3, 4})
		case "/v1/models/tts-1":
			modelLookups.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"tts-1","object":"model","owned_by":"openai"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("k")
	cfg.BaseURL = srv.URL + "/v1"
	s := NewOpenAISynthesizer(openai.NewClientWithConfig(cfg), zaptest.NewLogger(t))
	voice := VoiceConfig{Model: "tts-1", Voice: "alloy", Format: "pcm", Speed: 1.25}

	f := NewFetcher(s, NewWarmup(s, voice, nil), 1, nil)
	pcm, err := f.Synthesize(context.Background(), "Hello.", voice)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm)
	assert.Equal(t, "Hello.", req.Input)
	assert.Equal(t, openai.SpeechVoice("alloy"), req.Voice)
	assert.Equal(t, openai.SpeechResponseFormat("pcm"), req.ResponseFormat)
	assert.InDelta(t, 1.25, req.Speed, 1e-9)
	assert.Equal(t, int32(1), modelLookups.Load())
}
