// ABOUTME: Tests for server metrics
// ABOUTME: Gathers from the private registry and checks counters and clock gauges
package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

func TestTicksAndCommands(t *testing.T) {
	m := New()
	m.Tick()
	m.Tick()
	m.RecordCommand("seek", "ok")
	m.RecordCommand("seek", "error")
	m.RecordCommand("seek", "ok")
	m.RecordDropped("root")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("seek", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("seek", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("root")))
}

func TestFollowerGauge(t *testing.T) {
	m := New()
	m.FollowerConnected()
	m.FollowerConnected()
	m.FollowerDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.followers))
}

func TestWatchCountsTransitionsAndSamplesClock(t *testing.T) {
	master := clock.NewManualClock(0)
	root := playclock.NewFullClock(master)

	m := New()
	m.Watch("root", root)

	root.ClockStart(0)
	root.ClockRate(0, frac.Frac{Num: 1, Den: 2})
	root.ClockSeek(0, 100)
	master.Set(1000)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("root", "start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("root", "rate")))

	count, err := testutil.GatherAndCount(m.Registry(), "playclock_clock_micros")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 600.0, testutil.ToFloat64(m.clockMicros.WithLabelValues("root")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clockPlaying.WithLabelValues("root")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.clockRateRatio.WithLabelValues("root")))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.Tick()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "playclock_ticks_total 1"))
}
