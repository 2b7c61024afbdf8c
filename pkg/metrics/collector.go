package metrics

import (
	"context"
	"time"

	"github.com/Proton-105/protrader-agent/internal/fsm"
	"github.com/Proton-105/protrader-agent/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Total number of agent commands received labeled by command and status",
		},
		[]string{"cmd", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of agent commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cmd"},
	)
	fsmTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_transitions_total",
			Help: "Total number of workflow state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	visionSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_searches_total",
			Help: "Template searches labeled by template file and result",
		},
		[]string{"template", "result"},
	)
	visionSearchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_search_duration_seconds",
			Help:    "Duration of a multi-scale template search",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	ocrReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_reads_total",
			Help: "OCR digit reads labeled by result",
		},
		[]string{"result"},
	)
	pricesObservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_prices_observed_total",
			Help: "Marketplace prices read, labeled by quantity tier",
		},
		[]string{"tier"},
	)
	purchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_total",
			Help: "Purchase attempts labeled by outcome",
		},
		[]string{"result"},
	)
	salesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sales_total",
			Help: "Sale listings submitted",
		},
	)
	kamasCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kamas_current",
			Help: "Last kamas amount read from the client",
		},
	)
	queueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dropped_total",
			Help: "Items evicted from bounded queues",
		},
		[]string{"queue"},
	)
	transportConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transport_connected",
			Help: "1 while the realtime websocket is connected",
		},
	)
	workflowResourceIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_resource_index",
			Help: "Cursor of the active run over its resource list",
		},
	)
	workflowState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflow_state",
			Help: "1 for the current state of the active run",
		},
		[]string{"state"},
	)
)

func init() {
	fsm.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	commandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	if to == "" {
		to = "unknown"
	}

	fsmTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// ObserveTemplateSearch records one template search.
func ObserveTemplateSearch(template string, found bool, duration time.Duration) {
	result := "miss"
	if found {
		result = "hit"
	}

	visionSearchesTotal.WithLabelValues(template, result).Inc()
	visionSearchDurationSeconds.Observe(duration.Seconds())
}

// RecordOCRRead counts a digit read.
func RecordOCRRead(ok bool) {
	if ok {
		ocrReadsTotal.WithLabelValues("ok").Inc()
		return
	}
	ocrReadsTotal.WithLabelValues("unreadable").Inc()
}

// RecordPrice counts an observed marketplace price.
func RecordPrice(tier string) {
	pricesObservedTotal.WithLabelValues(tier).Inc()
}

// RecordPurchase counts a purchase outcome: confirmed, abandoned or skipped.
func RecordPurchase(result string) {
	purchasesTotal.WithLabelValues(result).Inc()
}

// RecordSale counts a submitted sale listing.
func RecordSale() {
	salesTotal.Inc()
}

// SetKamas updates the currency gauge.
func SetKamas(kamas int) {
	kamasCurrent.Set(float64(kamas))
}

// RecordQueueDrop counts an item evicted from the named queue.
func RecordQueueDrop(queue string) {
	queueDroppedTotal.WithLabelValues(queue).Inc()
}

// SetTransportConnected flips the transport gauge.
func SetTransportConnected(connected bool) {
	if connected {
		transportConnected.Set(1)
		return
	}
	transportConnected.Set(0)
}

// SnapshotCollector periodically exports the progress of the latest run.
type SnapshotCollector struct {
	tracker  state.Tracker
	interval time.Duration
}

// NewSnapshotCollector builds a metrics collector bound to the run tracker.
func NewSnapshotCollector(tracker state.Tracker) *SnapshotCollector {
	return &SnapshotCollector{tracker: tracker, interval: 10 * time.Second}
}

// Run polls the tracker every 10 seconds until ctx is cancelled.
func (c *SnapshotCollector) Run(ctx context.Context) {
	if c == nil || c.tracker == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *SnapshotCollector) collect(ctx context.Context) error {
	snapshot, err := c.tracker.Latest(ctx)
	if err != nil {
		return err
	}

	workflowState.Reset()
	if !snapshot.Active() {
		workflowResourceIndex.Set(0)
		return nil
	}

	workflowResourceIndex.Set(float64(snapshot.Index))
	if snapshot.State != "" {
		workflowState.WithLabelValues(snapshot.State).Set(1)
	}
	if snapshot.Kamas != nil {
		SetKamas(*snapshot.Kamas)
	}

	return nil
}
