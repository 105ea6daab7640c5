package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "concord"

// Metrics 网关客户端的 prometheus 指标。
// nil *Metrics 的所有方法都是空操作，组件不必判空。
type Metrics struct {
	framesReceived   *prometheus.CounterVec
	framesSent       *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	heartbeatsSent   prometheus.Counter
	heartbeatAcks    prometheus.Counter
	heartbeatLatency prometheus.Histogram
	reconnects       prometheus.Counter
	handshakes       *prometheus.CounterVec
	events           *prometheus.CounterVec
	connected        prometheus.Gauge
	commands         *prometheus.CounterVec
	commandErrors    *prometheus.CounterVec
}

// NewMetrics 创建并注册到 reg；reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "frames_received_total",
				Help:      "Total inbound gateway frames by opcode",
			},
			[]string{"op"},
		),
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "frames_sent_total",
				Help:      "Total outbound gateway frames by opcode",
			},
			[]string{"op"},
		),
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "frames_dropped_total",
				Help:      "Total frames or events dropped by reason",
			},
			[]string{"reason"}, // decode|binary|unknown_op|forward
		),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeats sent",
		}),
		heartbeatAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "heartbeat_acks_total",
			Help:      "Total heartbeat acks received",
		}),
		heartbeatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Time between a heartbeat and its ack",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts",
		}),
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "handshakes_total",
				Help:      "Total completed or failed handshakes",
			},
			[]string{"result"}, // identify|resume|failed
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "events_total",
				Help:      "Total dispatch events by name",
			},
			[]string{"name"},
		),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connected",
			Help:      "1 while a session is established",
		}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "console",
				Name:      "commands_total",
				Help:      "Total console commands executed",
			},
			[]string{"command"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "console",
				Name:      "command_errors_total",
				Help:      "Total console command errors",
			},
			[]string{"reason"}, // not_found|handler
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.framesSent,
			m.framesDropped,
			m.heartbeatsSent,
			m.heartbeatAcks,
			m.heartbeatLatency,
			m.reconnects,
			m.handshakes,
			m.events,
			m.connected,
			m.commands,
			m.commandErrors,
		)
	}
	return m
}

func (m *Metrics) IncFrameReceived(op string) {
	if m != nil {
		m.framesReceived.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncFrameSent(op string) {
	if m != nil {
		m.framesSent.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncHeartbeat() {
	if m != nil {
		m.heartbeatsSent.Inc()
	}
}

// ObserveAck 记录一次 ack 及其延迟
func (m *Metrics) ObserveAck(latency time.Duration) {
	if m != nil {
		m.heartbeatAcks.Inc()
		m.heartbeatLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) IncReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) IncHandshake(result string) {
	if m != nil {
		m.handshakes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncEvent(name string) {
	if m != nil {
		m.events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) IncCommand(name string) {
	if m != nil {
		m.commands.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) IncCommandError(reason string) {
	if m != nil {
		m.commandErrors.WithLabelValues(reason).Inc()
	}
}
