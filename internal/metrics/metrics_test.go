package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requests struct {
	count, errs int
}

func (r *requests) Record(_ time.Duration, hasErr bool) {
	r.count++
	if hasErr {
		r.errs++
	}
}

func TestHandler(t *testing.T) {
	rec := &requests{}
	status := http.StatusOK
	h := Handler(rec, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	status = http.StatusInternalServerError
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 2, rec.count)
	assert.Equal(t, 1, rec.errs)

	// A nil recorder passes requests through.
	w := httptest.NewRecorder()
	Handler(nil, h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPrometheus(t *testing.T) {
	m := NewPrometheus("relchan_test").(*prom)
	m.PacketSent(100)
	m.PacketSent(200)
	m.UnitsSent(5)
	m.AcksSent(2)
	m.AckReceived()
	m.Delivered("ping")
	m.Delivered("ping")
	m.Outstanding(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.packetsSent))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.unitsSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acksSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acksReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.delivered.WithLabelValues("ping")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.outstanding))

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "relchan_test_packet_size_bytes")
}

func TestDummy(t *testing.T) {
	m := NewDummy()
	m.PacketSent(1)
	m.PacketReceived(1)
	m.Delivered("x")
	m.Outstanding(0)
}
