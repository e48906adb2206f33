package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	EntriesPlaced       Counter
	EntriesFailed       Counter
	ExitsPlaced         Counter
	ExitsFailed         Counter
	ReconciliationDrift Counter
	FeedReconnects      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		EntriesPlaced:       n,
		EntriesFailed:       n,
		ExitsPlaced:         n,
		ExitsFailed:         n,
		ReconciliationDrift: n,
		FeedReconnects:      n,
	}
}
