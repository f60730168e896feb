// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRecordedTotal counts frames appended to an episode buffer.
	FramesRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_frames_recorded_total",
			Help: "Total number of frames recorded into episode buffers",
		},
		[]string{"session"},
	)

	// NodeTickLatencySeconds measures per-node tick handler latency.
	NodeTickLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "robotcap_node_tick_latency_seconds",
			Help:    "Latency of a dataflow node's tick handler in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"node"},
	)

	// NodeOverrunsTotal counts tick handlers that exceeded their period.
	NodeOverrunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_node_overruns_total",
			Help: "Total number of node tick handler overruns",
		},
		[]string{"node"},
	)

	// NodeState tracks each node's dataflow state machine state.
	NodeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robotcap_node_state",
			Help: "Current dataflow node state (0=starting,1=connecting,2=running,3=draining,4=stopped)",
		},
		[]string{"node"},
	)

	// DeviationWarningsTotal counts teleop safety monitor warning-threshold crossings.
	DeviationWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_deviation_warnings_total",
			Help: "Total number of joint deviation warnings raised by the safety monitor",
		},
		[]string{"joint"},
	)

	// EmergencyStopsTotal counts emergency-stop transitions.
	EmergencyStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_emergency_stops_total",
			Help: "Total number of emergency stop transitions",
		},
		[]string{"joint"},
	)

	// SaverQueueDepth tracks the async episode saver's pending queue length.
	SaverQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robotcap_saver_queue_depth",
			Help: "Number of episodes queued for the async saver",
		},
	)

	// SaverRetriesTotal counts save-attempt retries.
	SaverRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_saver_retries_total",
			Help: "Total number of episode save retries",
		},
		[]string{"episode"},
	)

	// ImageWriterErrorsTotal counts dropped image-write failures.
	ImageWriterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_image_writer_errors_total",
			Help: "Total number of image write failures dropped by the writer pool",
		},
		[]string{"camera"},
	)

	// MemoryRSSBytes tracks the process RSS as sampled by the memory guard.
	MemoryRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "robotcap_memory_rss_bytes",
			Help: "Resident set size of the agent process, as sampled by the memory auto-stop guard",
		},
	)

	// OffloadTransactionState tracks the offload orchestrator's state machine state.
	OffloadTransactionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robotcap_offload_transaction_state",
			Help: "Current offload transaction state (0=idle,1=probing,2=uploading,3=notifying,4=polling,5=training,6=downloading,7=done,8=failed)",
		},
		[]string{"repo_id"},
	)

	// OffloadUploadBytesTotal counts bytes transferred by the offload orchestrator.
	OffloadUploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robotcap_offload_upload_bytes_total",
			Help: "Total bytes uploaded by the offload orchestrator",
		},
		[]string{"repo_id", "mode"},
	)
)

// NodeStateValue mirrors the dataflow node's state machine as numeric
// values for the robotcap_node_state gauge.
const (
	NodeStateStarting   = 0
	NodeStateConnecting = 1
	NodeStateRunning    = 2
	NodeStateDraining   = 3
	NodeStateStopped    = 4
)

// OffloadStateValue mirrors the offload orchestrator's state machine.
const (
	OffloadStateIdle             = 0
	OffloadStateProbing          = 1
	OffloadStateUploading        = 2
	OffloadStateNotifying        = 3
	OffloadStatePollingStatus    = 4
	OffloadStateTrainingTriggered = 5
	OffloadStateDownloading      = 6
	OffloadStateDone             = 7
	OffloadStateFailed           = 8
)
