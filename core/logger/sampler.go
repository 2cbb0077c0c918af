package logger

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const defaultSampleEvery = 50

var (
	debugSampler  atomic.Pointer[rate.Sometimes]
	traceOverride atomic.Bool
)

func configureSampling(raw string) {
	debugSampler.Store(&rate.Sometimes{Every: parseSampleEvery(raw)})
	traceOverride.Store(isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE")))
}

// parseSampleEvery reads "N" or "k/N" and returns how many events share one
// logged line. Malformed values fall back to one in fifty.
func parseSampleEvery(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultSampleEvery
	}
	num := 1
	if n, d, ok := strings.Cut(raw, "/"); ok {
		v, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || v <= 0 {
			return defaultSampleEvery
		}
		num, raw = v, d
	}
	den, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || den <= 0 {
		return defaultSampleEvery
	}
	if every := den / num; every > 1 {
		return every
	}
	return 1
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug event should be
// logged. TRACE=1 or LOG_TRACE=1 disables sampling.
func ShouldSampleDebug() bool {
	if traceOverride.Load() {
		return true
	}
	s := debugSampler.Load()
	if s == nil {
		return true
	}
	sampled := false
	s.Do(func() { sampled = true })
	return sampled
}
