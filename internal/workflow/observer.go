package workflow

// ProgressObserver receives checkpoint updates for the active job. Calls are
// serialized per job: the collector goroutine is the only caller, so
// implementations never see interleaved partial updates.
type ProgressObserver interface {
	OnProgress(jobID string, percent float64, message string)
}

// ObserverFunc adapts a function to the ProgressObserver interface.
type ObserverFunc func(jobID string, percent float64, message string)

func (f ObserverFunc) OnProgress(jobID string, percent float64, message string) {
	f(jobID, percent, message)
}

// NopObserver discards progress updates.
type NopObserver struct{}

func (NopObserver) OnProgress(string, float64, string) {}
