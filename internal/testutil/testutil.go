// Package testutil holds HTTP and event fixtures shared by handler tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Serve runs one request against h and returns the recorded response.
// A non-empty body is sent as JSON.
func Serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes the recorded body into a T, failing the test on error.
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// Event returns a live detection event at ts with the given fields.
func Event(ts time.Time, direction, label string, kmh float64, image string) eventlog.Event {
	return eventlog.Event{
		Timestamp:   ts.Truncate(time.Second),
		ObjectType:  label,
		ObjectColor: "gray",
		Direction:   direction,
		SpeedKMH:    kmh,
		SpeedMPH:    kmh * 0.621371,
		Confidence:  0.8,
		ImageFile:   image,
	}
}
