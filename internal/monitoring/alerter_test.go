package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/model"
)

func defaultMonitoring() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.20,
		CostThresholdUSD:     50.0,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 95)

	snap := &model.MetricsSnapshot{
		Found:     100,
		Succeeded: 90,
		Failed:    10,
		Accuracy:  97,
		CostUSD:   10.0,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 0)

	snap := &model.MetricsSnapshot{
		Found:     20,
		Succeeded: 12,
		Failed:    8,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExtractionFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumFinishedRequired(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 0)

	// 3 of 4 failed, but fewer than 5 finished.
	alerts := a.Evaluate(&model.MetricsSnapshot{Succeeded: 1, Failed: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_AccuracyBelowTarget(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 95)

	alerts := a.Evaluate(&model.MetricsSnapshot{Accuracy: 90})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAccuracyBelowTarget, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "90.00% is below the 95.00% target")

	// Nothing validated yet.
	assert.Empty(t, a.Evaluate(&model.MetricsSnapshot{Accuracy: 0}))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 0)

	alerts := a.Evaluate(&model.MetricsSnapshot{CostUSD: 75.5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$75.50")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(defaultMonitoring(), 95)

	alerts := a.Evaluate(&model.MetricsSnapshot{
		Succeeded: 5,
		Failed:    5,
		Accuracy:  80,
		CostUSD:   100,
	})
	require.Len(t, alerts, 3)
	assert.Equal(t, AlertExtractionFailureRate, alerts[0].Type)
	assert.Equal(t, AlertAccuracyBelowTarget, alerts[1].Type)
	assert.Equal(t, AlertCostOverrun, alerts[2].Type)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	}, 0)

	alerts := a.Evaluate(&model.MetricsSnapshot{CostUSD: 999.0})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	}, 0)

	alerts := []Alert{
		{Type: AlertExtractionFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 2"},
	}

	sent := a.Notify(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{}, 0)

	sent := a.Notify(context.Background(), []Alert{
		{Type: AlertExtractionFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	}, 0)

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	}, 0)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Message: "test"}})
	assert.Equal(t, 0, sent)
}
