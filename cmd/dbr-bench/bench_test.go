package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentileReportEmpty(t *testing.T) {
	require.Equal(t, "n/a", percentileReport(nil))
}

func TestPercentileReportOrdersUnsorted(t *testing.T) {
	latencies := []time.Duration{
		30 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
	}
	report := percentileReport(latencies)
	require.Contains(t, report, "max=30ms")
}
