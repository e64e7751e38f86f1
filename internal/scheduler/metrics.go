package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks posted to the engine queue",
		},
		[]string{"model", "kind"},
	)

	tokensPredicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "tokens_predicted_total",
			Help:      "Generated tokens",
		},
		[]string{"model"},
	)

	promptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens evaluated",
		},
		[]string{"model"},
	)

	slotsBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "slots_busy",
			Help:      "Slots currently processing a task",
		},
		[]string{"model"},
	)

	deferredTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "deferred_tasks",
			Help:      "Tasks waiting for a free slot",
		},
		[]string{"model"},
	)

	waitingSets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "waiting_tasks",
			Help:      "Task ids registered as waiting for results",
		},
		[]string{"model"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llamacore",
			Subsystem: "scheduler",
			Name:      "requests_total",
			Help:      "Handled requests by endpoint and outcome",
		},
		[]string{"model", "endpoint", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal, tokensPredicted, promptTokens, slotsBusy, deferredTasks, waitingSets, requestsTotal)
}

// updateGauges runs on the worker goroutine.
func (s *Scheduler) updateGauges() {
	n := 0
	for _, sl := range s.slots {
		if !sl.idle() {
			n++
		}
	}
	slotsBusy.WithLabelValues(s.label).Set(float64(n))
	deferredTasks.WithLabelValues(s.label).Set(float64(s.queue.deferredLen()))
}

func resetGauges(label string) {
	slotsBusy.WithLabelValues(label).Set(0)
	deferredTasks.WithLabelValues(label).Set(0)
	waitingSets.WithLabelValues(label).Set(0)
}

// observe records the outcome of one request.
func (s *Scheduler) observe(endpoint string, err error) {
	outcome := "ok"
	if k, ok := kindOf(err); ok {
		switch k {
		case KindInvalidRequest, KindExceedsContext:
			outcome = "invalid"
		case KindNotSupported:
			outcome = "not_supported"
		case KindUnavailable:
			outcome = "unavailable"
		case KindCancelled:
			outcome = "cancelled"
		default:
			outcome = "error"
		}
	} else if err != nil {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(s.label, endpoint, outcome).Inc()
}
