package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oxygen_monitor"

// Metrics counts what happens on the delivery path.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BytesReceived        prometheus.Counter
	FramesReceived       prometheus.Counter
	MeasurementsAccepted prometheus.Counter
	ParseFailures        *prometheus.CounterVec
	ScannerOverflows     prometheus.Counter
	ScannerRestarts      prometheus.Counter
	LogWriteFailures     prometheus.Counter
	Connected            prometheus.Gauge
	LastOxygen           prometheus.Gauge
	LastHeartRate        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total number of bytes delivered by the serial transport",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of complete frames extracted from the stream",
		}),
		MeasurementsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_accepted_total",
			Help:      "Total number of frames that parsed into a measurement",
		}),
		ParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Frames dropped by the parser, by reason",
		}, []string{"reason"}),
		ScannerOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanner_overflows_total",
			Help:      "Frames dropped for exceeding the maximum frame size",
		}),
		ScannerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanner_restarts_total",
			Help:      "Partial frames discarded because a new prefix arrived",
		}),
		LogWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_write_failures_total",
			Help:      "Measurements that could not be appended to the data file",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the controller is listening to a device",
		}),
		LastOxygen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oxygen_saturation_percent",
			Help:      "Most recent oxygen saturation",
		}),
		LastHeartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heart_rate_bpm",
			Help:      "Most recent heart rate",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BytesReceived,
			m.FramesReceived,
			m.MeasurementsAccepted,
			m.ParseFailures,
			m.ScannerOverflows,
			m.ScannerRestarts,
			m.LogWriteFailures,
			m.Connected,
			m.LastOxygen,
			m.LastHeartRate,
		)
	}
	return m
}

func (m *Metrics) AddBytes(n int) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

func (m *Metrics) Accepted(oxygen, heartRate int) {
	if m == nil {
		return
	}
	m.MeasurementsAccepted.Inc()
	m.LastOxygen.Set(float64(oxygen))
	m.LastHeartRate.Set(float64(heartRate))
}

func (m *Metrics) ParseFailed(reason string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddScannerDrops(overflows, restarts uint64) {
	if m == nil {
		return
	}
	m.ScannerOverflows.Add(float64(overflows))
	m.ScannerRestarts.Add(float64(restarts))
}

func (m *Metrics) LogWriteFailed(error) {
	if m == nil {
		return
	}
	m.LogWriteFailures.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}
