package ninjago

// Status is the interface the build notifies of progress; the printer
// implementation lives behind it so tests can observe callbacks.
type Status interface {
	// Callbacks for the Plan to notify us about adding/removing Edges.
	EdgeAddedToPlan(edge *Edge)
	EdgeRemovedFromPlan(edge *Edge)

	BuildEdgeStarted(edge *Edge, startTimeMillis int64)
	BuildEdgeFinished(edge *Edge, startTimeMillis, endTimeMillis int64, success bool, output string)
	BuildStarted()
	BuildFinished()

	// SetExplanations sets the Explanations instance used to report
	// explanations; nil if no explanations need to be printed (the
	// default).
	SetExplanations(*Explanations)

	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}
