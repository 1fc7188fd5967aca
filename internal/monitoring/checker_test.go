package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/config"
	"github.com/sells-group/docgraph/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_SuppressesRepeatsUntilCleared(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		FailureRateThreshold: 0.5,
		LookbackWindowHours:  24,
	}
	collector := NewCollector(nil)
	for i := 0; i < 6; i++ {
		collector.Record(&model.ProcessingResult{Success: false})
	}
	checker := NewChecker(collector, NewAlerter(cfg), cfg)
	log := zap.NewNop()

	sent := checker.check(context.Background(), log)
	require.Len(t, sent, 1)
	assert.Equal(t, AlertProcessingFailureRate, sent[0].Type)
	assert.Equal(t, int32(1), received.Load())

	assert.Empty(t, checker.check(context.Background(), log), "still firing")
	assert.Equal(t, int32(1), received.Load())

	for i := 0; i < 20; i++ {
		collector.Record(&model.ProcessingResult{Success: true})
	}
	assert.Empty(t, checker.check(context.Background(), log))
	assert.Empty(t, checker.firing)

	for i := 0; i < 30; i++ {
		collector.Record(&model.ProcessingResult{Success: false})
	}
	assert.Len(t, checker.check(context.Background(), log), 1, "fires again after clearing")
	assert.Equal(t, int32(2), received.Load())
}
