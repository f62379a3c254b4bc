package testutil

import (
	"net/http"
	"testing"
	"time"
)

func TestAssertHelpersPass(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status and nil error")
	}
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `","type":"` + r.Header.Get("Content-Type") + `"}`))
	})

	w := Serve(h, http.MethodPost, "/x", `{}`)
	AssertStatusCode(t, w.Code, http.StatusOK)
	got := DecodeJSON[map[string]string](t, w)
	if got["method"] != "POST" || got["type"] != "application/json" {
		t.Errorf("got %v", got)
	}

	w = Serve(h, http.MethodGet, "/x", "")
	if got := DecodeJSON[map[string]string](t, w); got["type"] != "" {
		t.Errorf("content type = %q, want empty", got["type"])
	}
}

func TestEvent(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	e := Event(ts, "R2L", "car", 50, "x.jpg")
	if !e.Timestamp.Equal(ts.Truncate(time.Second)) {
		t.Errorf("Timestamp = %v", e.Timestamp)
	}
	if e.SpeedMPH < 31 || e.SpeedMPH > 31.1 {
		t.Errorf("SpeedMPH = %v, want ~31.07", e.SpeedMPH)
	}
	if e.Removed {
		t.Error("Removed = true, want false")
	}
}
