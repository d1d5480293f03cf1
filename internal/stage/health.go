package stage

// Health reports whether a pipeline stage can accept work. Stages surface
// missing vendor credentials or unwritable render directories here so the
// daemon status output can flag them before a task fails mid-run.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks a stage ready to process tasks.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks a stage unable to process tasks, with the blocking reason.
func Unhealthy(name, reason string) Health {
	return Health{Name: name, Ready: false, Detail: reason}
}
