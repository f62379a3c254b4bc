package classify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/speedcam/internal/frame"
	"github.com/banshee-data/speedcam/internal/httputil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func crop() frame.Frame {
	return frame.New(1, time.Now(), 8, 8)
}

func collect(t *testing.T, r *Runner, n int) map[int]Decision {
	t.Helper()
	out := make(map[int]Decision, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case res, ok := <-r.Results():
			if !ok {
				return out
			}
			out[res.Key] = res.Decision
		case <-timeout:
			t.Fatalf("timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

func TestRunnerClassifies(t *testing.T) {
	cls := ClassifierFunc(func(ctx context.Context, img frame.Frame) ([]Candidate, error) {
		return []Candidate{{"car", 0.9}}, nil
	})
	r := NewRunner(cls, DefaultPolicy(), RunnerConfig{})
	defer r.Close()

	require.True(t, r.Submit(Request{Key: 7, Image: crop()}))
	got := collect(t, r, 1)
	assert.Equal(t, Decision{Label: "car", Confidence: 0.9, Accepted: true}, got[7])
}

func TestRunnerTimeoutFallsBack(t *testing.T) {
	cls := ClassifierFunc(func(ctx context.Context, img frame.Frame) ([]Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := NewRunner(cls, DefaultPolicy(), RunnerConfig{Timeout: 20 * time.Millisecond})
	defer r.Close()

	require.True(t, r.Submit(Request{Key: 1, Image: crop()}))
	d := collect(t, r, 1)[1]
	assert.True(t, d.Accepted)
	assert.True(t, d.Fallback)
	assert.Equal(t, UnknownLabel, d.Label)
	assert.Equal(t, FallbackConfidence, d.Confidence)
}

func TestRunnerErrorFallsBack(t *testing.T) {
	cls := ClassifierFunc(func(ctx context.Context, img frame.Frame) ([]Candidate, error) {
		return nil, errors.New("model not loaded")
	})
	r := NewRunner(cls, DefaultPolicy(), RunnerConfig{})
	defer r.Close()

	require.True(t, r.Submit(Request{Key: 1, Image: crop()}))
	d := collect(t, r, 1)[1]
	assert.True(t, d.Fallback)
	assert.Contains(t, d.Reason, "model not loaded")
}

func TestRunnerQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	cls := ClassifierFunc(func(ctx context.Context, img frame.Frame) ([]Candidate, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return []Candidate{{"bus", 0.8}}, nil
	})
	r := NewRunner(cls, DefaultPolicy(), RunnerConfig{Workers: 1, Queue: 1, Timeout: 5 * time.Second})

	require.True(t, r.Submit(Request{Key: 1, Image: crop()}))
	<-started
	require.True(t, r.Submit(Request{Key: 2, Image: crop()}))
	assert.False(t, r.Submit(Request{Key: 3, Image: crop()}), "third request must not block or queue")

	fb := r.Fallback("queue full")
	assert.True(t, fb.Fallback)
	assert.True(t, fb.Accepted)

	close(release)
	r.Close()
	got := collect(t, r, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "bus", got[2].Label)
	assert.False(t, r.Submit(Request{Key: 4}), "closed runner rejects requests")
}

func TestRunnerNilClassifier(t *testing.T) {
	r := NewRunner(nil, DefaultPolicy(), RunnerConfig{})
	require.True(t, r.Submit(Request{Key: 1, Image: crop()}))
	r.Close()
	d := collect(t, r, 1)[1]
	assert.Equal(t, UnknownLabel, d.Label)
	assert.Equal(t, 1.0, d.Confidence)
	assert.True(t, d.Accepted)
	assert.False(t, d.Fallback)
	r.Close()
}

func TestHTTPClassifier(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"predictions":[{"label":"car","confidence":0.87},{"label":"person","confidence":0.2}]}`).
		AddResponse(http.StatusServiceUnavailable, "loading")

	c := NewHTTPClassifier("http://infer.local/classify", mock)
	cands, err := c.Classify(context.Background(), crop())
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{"car", 0.87}, {"person", 0.2}}, cands)
	assert.Equal(t, "image/jpeg", mock.Requests[0].Header.Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8}, mock.Bodies[0][:2])

	_, err = c.Classify(context.Background(), crop())
	assert.ErrorContains(t, err, "503")

	_, err = c.Classify(context.Background(), frame.Frame{})
	assert.Error(t, err)
	assert.Equal(t, 2, mock.RequestCount())
}
