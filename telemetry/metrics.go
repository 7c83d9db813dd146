package telemetry

// Isolation Metrics
var (
	// IsolationChangesTotal counts applied isolation changes by scope (next, session, global) and level
	IsolationChangesTotal CounterVec = noopCounterVec

	// IsolationParseTotal counts isolation statement parses by result (ok, cached, not_isolation, error)
	IsolationParseTotal CounterVec = noopCounterVec

	// SessionsByIsolation tracks live sessions by the level their next transaction would use
	SessionsByIsolation GaugeVec = noopGaugeVec
)

// Transaction Metrics
var (
	// TransactionsBegunTotal counts transactions started by effective isolation level
	TransactionsBegunTotal CounterVec = noopCounterVec

	// ActiveIsolatedTransactions tracks SQLite/MySQL transactions currently open
	ActiveIsolatedTransactions Gauge = NoopStat{}

	// TxnDurationSeconds measures time from begin to commit/rollback by level
	TxnDurationSeconds HistogramVec = noopHistogramVec
)

// TxnBuckets for local SQLite transactions
var TxnBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

// InitMetrics replaces the no-op metrics with registered Prometheus metrics
func InitMetrics() {
	IsolationChangesTotal = newLevelCounterVec(
		"isolation_changes_total",
		"Isolation level changes applied to sessions",
		"scope",
	)
	IsolationParseTotal = newCounterVec(
		"isolation_parse_total",
		"Isolation statement parses by result",
		"result",
	)
	SessionsByIsolation = newLevelGaugeVec(
		"sessions_by_isolation",
		"Live sessions by effective isolation level",
	)

	TransactionsBegunTotal = newLevelCounterVec(
		"transactions_begun_total",
		"Transactions started by isolation level",
	)
	ActiveIsolatedTransactions = newGauge(
		"active_isolated_transactions",
		"Open isolated transactions",
	)
	TxnDurationSeconds = newLevelHistogramVec(
		"txn_duration_seconds",
		"Isolated transaction duration",
		TxnBuckets,
	)
}
