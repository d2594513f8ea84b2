package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/executor"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/session"
)

var (
	_ executor.Observer = (*Metrics)(nil)
	_ history.Observer  = (*Metrics)(nil)
	_ session.Observer  = (*Metrics)(nil)
)

func TestObservers(t *testing.T) {
	m := New(nil)

	m.NodeComputed("scale", time.Millisecond, nil)
	m.NodeComputed("scale", time.Millisecond, errors.New("boom"))
	m.PassCompleted(executor.Report{Duration: time.Millisecond, Skipped: []string{"a", "b"}})
	m.Recorded(4)
	m.Duplicate("scope")
	m.Downloaded(2)
	m.Downloaded(0)
	m.ArmedChanged(true)
	m.GroupCollected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeComputes.WithLabelValues("scale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeFailures.WithLabelValues("scale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SkippedNodes))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HistoryDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Duplicates.WithLabelValues("scope")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acquisitions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Captures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Armed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GroupsRemoved))

	m.ArmedChanged(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Armed))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.GroupCollected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "scopegrid_trigger_groups_collected_total 1"))

	n, err := testutil.GatherAndCount(reg, "scopegrid_armed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
