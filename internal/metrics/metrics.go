package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records connection metrics.
type Recorder interface {
	PacketSent(size int)
	PacketReceived(size int)
	UnitsSent(n int)
	AcksSent(n int)
	AckReceived()
	Delivered(channel string)
	Outstanding(n int)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (m *dummy) PacketSent(int)     {}
func (m *dummy) PacketReceived(int) {}
func (m *dummy) UnitsSent(int)      {}
func (m *dummy) AcksSent(int)       {}
func (m *dummy) AckReceived()       {}
func (m *dummy) Delivered(string)   {}
func (m *dummy) Outstanding(int)    {}

type prom struct {
	packetsSent     prometheus.Counter
	packetsReceived prometheus.Counter
	packetSize      prometheus.Summary
	unitsSent       prometheus.Counter
	acksSent        prometheus.Counter
	acksReceived    prometheus.Counter
	delivered       *prometheus.CounterVec
	outstanding     prometheus.Gauge
}

// NewPrometheus constructs a new Prometheus metrics recorder. Metric names are
// prefixed with service, so it must be called once per service.
func NewPrometheus(service string) Recorder {
	return &prom{
		packetsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_packets_sent_total",
			Help: "The total number of packets built for the link",
		}),
		packetsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_packets_received_total",
			Help: "The total number of packets received from the link",
		}),
		packetSize: promauto.NewSummary(prometheus.SummaryOpts{
			Name: service + "_packet_size_bytes",
			Help: "Sizes of sent packets",
		}),
		unitsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_units_sent_total",
			Help: "The total number of channel units sent, resends included",
		}),
		acksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_acks_sent_total",
			Help: "The total number of acks sent",
		}),
		acksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_acks_received_total",
			Help: "The total number of acks received",
		}),
		delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_delivered_total",
			Help: "The total number of messages delivered to the application",
		}, []string{"channel"}),
		outstanding: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_outstanding",
			Help: "Reliable messages waiting for an ack",
		}),
	}
}

func (m *prom) PacketSent(size int) {
	m.packetsSent.Inc()
	m.packetSize.Observe(float64(size))
}

func (m *prom) PacketReceived(int) { m.packetsReceived.Inc() }

func (m *prom) UnitsSent(n int) { m.unitsSent.Add(float64(n)) }

func (m *prom) AcksSent(n int) { m.acksSent.Add(float64(n)) }

func (m *prom) AckReceived() { m.acksReceived.Inc() }

func (m *prom) Delivered(channel string) { m.delivered.WithLabelValues(channel).Inc() }

func (m *prom) Outstanding(n int) { m.outstanding.Set(float64(n)) }

// RequestRecorder records request metrics of the metrics endpoint itself.
type RequestRecorder interface {
	Record(resTime time.Duration, hasErr bool)
}

type promRequests struct {
	reqCount prometheus.Counter
	errCount prometheus.Counter
	resTime  prometheus.Summary
}

// NewPrometheusRequests constructs a new Prometheus request recorder.
func NewPrometheusRequests(service string) RequestRecorder {
	return &promRequests{
		reqCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_request_total",
			Help: "The total number of processed requests",
		}),
		errCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_errors_total",
			Help: "The total number of 500 responses",
		}),
		resTime: promauto.NewSummary(prometheus.SummaryOpts{
			Name: service + "_response_time",
			Help: "Response times",
		}),
	}
}

func (m *promRequests) Record(resTime time.Duration, hasErr bool) {
	m.reqCount.Inc()
	m.resTime.Observe(resTime.Seconds())
	if hasErr {
		m.errCount.Inc()
	}
}

// Handler provides metrics middleware.
func Handler(m RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if m == nil {
			next.ServeHTTP(w, req)
			return
		}

		wrapW := &wrapResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		startTime := time.Now()
		next.ServeHTTP(wrapW, req)
		m.Record(time.Since(startTime), wrapW.statusCode == http.StatusInternalServerError)
	})
}

type wrapResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrapResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
