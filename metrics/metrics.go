package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "caserunner"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "dispatched_total",
		Help:      "Count of test cases dispatched into execution slots",
	}, []string{
		"run_id",
	})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "results_total",
		Help:      "Count of terminal test case results",
	}, []string{
		"run_id",
		"name",
		"result",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of retry attempts",
	}, []string{
		"name",
	})

	activeSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_slots",
		Help:      "Number of currently active execution slots",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordDispatch(runID string) {
	if Debug {
		log.Debug("metric inc", "m", "dispatched_total", "run_id", runID)
	}
	dispatchedTotal.WithLabelValues(runID).Inc()
}

func RecordResult(runID string, name string, result string) {
	if Debug {
		log.Debug("metric inc",
			"m", "results_total",
			"run_id", runID,
			"name", name,
			"result", result)
	}
	resultsTotal.WithLabelValues(runID, name, result).Inc()
}

func RecordRetry(name string) {
	if Debug {
		log.Debug("metric inc", "m", "retries_total", "name", name)
	}
	retriesTotal.WithLabelValues(name).Inc()
}

func SetActiveSlots(n int) {
	activeSlots.Set(float64(n))
}

func RecordRunResult(runID string, result string) {
	runResults.WithLabelValues(runID, result).Set(1)
}
