package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveAdd("note", "indexed", nil, 120*time.Millisecond)
	m.ObserveAdd("audio", "indexed", []string{"transcription_failed"}, time.Second)
	m.ObserveAdd("audio", "partial", []string{"transcription_failed", "transcode_failed"}, time.Second)
	m.ObserveDelete("note", "deleted")
	m.ObserveSearch(10*time.Millisecond, nil)
	m.ObserveSearch(10*time.Millisecond, errors.New("embedding down"))
	m.ObserveReload("signal", 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.adds.WithLabelValues("note", "indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adds.WithLabelValues("audio", "partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.degradations.WithLabelValues("transcription_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes.WithLabelValues("note", "deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.indexEntries))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAdd("note", "indexed", []string{"x"}, time.Second)
		m.ObserveDelete("note", "deleted")
		m.ObserveSearch(time.Second, nil)
		m.ObserveReload("signal", 1)
	})
	assert.Nil(t, m.Registry())
}
