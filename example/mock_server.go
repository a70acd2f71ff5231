package main

import (
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockState tracks the behaviour and next change time for a single device.
type mockState struct {
	modeIdx      int
	nextChangeAt time.Time
}

// modes cycle a device through online, warning and offline.
var modes = []string{"healthy", "slow", "failing"}

// StartMockHealthServer runs a mock health endpoint whose devices change
// behaviour every 20-60 seconds. A slow device answers after 1.2s, above the
// default warning threshold; a failing device returns 503.
// Call this in a goroutine before starting the monitor.
func StartMockHealthServer(addr string) {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("device")

		mu.Lock()
		state, exists := states[key]
		if !exists {
			// first change in 20-60 seconds
			state = &mockState{
				nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second),
			}
			states[key] = state
		}

		// change behaviour when scheduled time is reached
		if time.Now().After(state.nextChangeAt) {
			oldMode := modes[state.modeIdx]
			state.modeIdx = (state.modeIdx + 1) % len(modes)
			state.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("mock behaviour change", "device", key, "from", oldMode, "to", modes[state.modeIdx])
		}
		mode := modes[state.modeIdx]
		mu.Unlock()

		switch mode {
		case "slow":
			time.Sleep(1200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		case "failing":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			// simulate small latency variance
			time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
