package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// DeclarationsCreated counts declarations by the path that created them
	// ("draft", "send", "send_race").
	DeclarationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_declarations_created_total",
			Help: "Declarations created by the recovery workflow.",
		},
		[]string{"source"},
	)

	// RecoveryTransitions counts payment_state changes ("recovered", "revoked").
	RecoveryTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_state_transitions_total",
			Help: "Declaration payment_state transitions.",
		},
		[]string{"to"},
	)

	// PaymentsLinked counts receipts attached to a declaration by a link scan.
	PaymentsLinked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_payments_linked_total",
		Help: "Receipts linked to declarations by the reconciliation scan.",
	})

	// LinkFailures counts per-receipt failures skipped during a link scan.
	LinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_link_failures_total",
		Help: "Receipts the reconciliation scan failed to link.",
	})

	// UploadFallbacks counts receipts saved with upload_pending=true.
	UploadFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_upload_fallbacks_total",
		Help: "Receipts stored with a local preview because the upload failed.",
	})

	// ReceiptTransitions counts receipt status changes ("validee", "brouillon").
	ReceiptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_receipt_transitions_total",
			Help: "Receipt status transitions.",
		},
		[]string{"to"},
	)

	// DeletesDenied counts refused receipt deletions by reason.
	DeletesDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_receipt_deletes_denied_total",
			Help: "Receipt deletions refused by the authorization policy.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		DeclarationsCreated,
		RecoveryTransitions,
		PaymentsLinked,
		LinkFailures,
		UploadFallbacks,
		ReceiptTransitions,
		DeletesDenied,
	)
}
