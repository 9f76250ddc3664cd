package report

import (
	"testing"
	"time"

	"marlin/internal/engine"
	"marlin/internal/portfolio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	points := []portfolio.EquityPoint{
		{Timestamp: at, Equity: 10000},
		{Timestamp: at.Add(time.Minute), Equity: 11000},
		{Timestamp: at.Add(2 * time.Minute), Equity: 9500},
	}
	html, err := RenderHTML(points, engine.PerformanceMetrics{ReturnPercent: -5, WinRate: 0.5})
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "equity")
	assert.Contains(t, s, "drawdown")
	assert.Contains(t, s, "Drawdown %")
}

func TestRenderHTMLEmptyHistory(t *testing.T) {
	_, err := RenderHTML(nil, engine.PerformanceMetrics{})
	assert.Error(t, err)
}
