package jobs

// Metrics counts job runs. observability.Metrics satisfies it.
type Metrics interface {
	ObserveJob(task, status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveJob(string, string) {}

// tracker records the outcome of a single run and returns err untouched.
type tracker struct {
	metrics Metrics
	task    string
}

func track(m Metrics, task string) tracker {
	if m == nil {
		m = noopMetrics{}
	}
	return tracker{metrics: m, task: task}
}

func (t tracker) End(err error) error {
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.ObserveJob(t.task, status)
	return err
}
