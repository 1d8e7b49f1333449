package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_job_runs_total",
		Help: "Total billing job runs by job and outcome",
	}, []string{"job", "outcome"}) // outcome: completed, locked, error

	prebillInvoices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_prebill_invoices_total",
		Help: "Renewal invoices created by the pre-bill job",
	})

	prebillDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_prebill_duplicates_total",
		Help: "Period invoices skipped because a concurrent run already posted them",
	})

	subscriptionsSuspended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_subscriptions_suspended_total",
		Help: "Subscriptions suspended by the cutoff job",
	})

	subscriptionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_subscription_failures_total",
		Help: "Per-subscription processing failures by job",
	}, []string{"job"})
)
