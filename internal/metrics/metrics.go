package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsim_events_processed_total",
			Help: "Control-plane events dispatched by the engine.",
		},
		[]string{"kind"},
	)

	SimulationSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bgpsim_simulation_steps",
			Help:    "Steps taken per converged simulation.",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 100000},
		},
	)

	ConvergenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsim_convergence_failures_total",
			Help: "Simulations aborted at the step budget.",
		},
	)

	SpfRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsim_spf_runs_total",
			Help: "LSA deliveries handed to the OSPF instance; the receiver recomputes only when the record is new.",
		},
	)

	RouteMapDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsim_route_map_drops_total",
			Help: "Routes dropped by route-map Deny clauses.",
		},
		[]string{"direction"},
	)

	RouteLoopsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsim_route_loops_dropped_total",
			Help: "EBGP updates dropped for carrying the local AS in the path.",
		},
	)

	BestRouteChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsim_best_route_changes_total",
			Help: "Loc-RIB selections installed or replaced.",
		},
	)

	PathsTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsim_paths_truncated_total",
			Help: "Path enumerations cut off at the max-paths bound.",
		},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpsim_store_write_duration_seconds",
			Help:    "Result-store write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	FeedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsim_feed_messages_total",
			Help: "Route events consumed from the Kafka feed.",
		},
		[]string{"topic", "action"},
	)

	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsim_feed_errors_total",
			Help: "Feed decode and apply failures by stage.",
		},
		[]string{"stage"},
	)
)

func Register() {
	prometheus.MustRegister(
		EventsProcessedTotal,
		SimulationSteps,
		ConvergenceFailuresTotal,
		SpfRunsTotal,
		RouteMapDropsTotal,
		RouteLoopsDroppedTotal,
		BestRouteChangesTotal,
		PathsTruncatedTotal,
		StoreWriteDuration,
		FeedMessagesTotal,
		FeedErrorsTotal,
	)
}
