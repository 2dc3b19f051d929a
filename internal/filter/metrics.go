package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "abusefilter_run_duration_sec",
	Help: "Total duration of running a rule group against one action",
}, []string{"group"})

var runCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_runs",
	Help: "Number of actions run, by decision",
}, []string{"group", "decision"})

var ruleErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_rule_errors",
	Help: "Number of rule evaluations that ended in an error, by kind",
}, []string{"kind"})

var budgetExceededCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_budget_exceeded",
	Help: "Number of rule evaluations aborted for exceeding their budget",
}, []string{"group", "reason"})

var degradedRunCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_degraded_runs",
	Help: "Number of runs in which every rule failed on a variable computation",
}, []string{"group"})

var ruleMatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_rule_matches",
	Help: "Number of rule matches",
}, []string{"group"})

var consequenceFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "abusefilter_consequence_failures",
	Help: "Number of consequences that could not be applied",
}, []string{"kind"})

var stashHitCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "abusefilter_stash_hits",
	Help: "Number of runs that reused a stashed evaluation",
})

var logWriteErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "abusefilter_log_write_errors",
	Help: "Number of match log writes that failed",
})
