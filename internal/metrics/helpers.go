package metrics

// RecordReviewMutation counts one review mutation attempt.
func RecordReviewMutation(kind string, err error) {
	ReviewMutations.WithLabelValues(kind, outcome(err)).Inc()
}

// RecordEvent counts one published review event.
func RecordEvent(eventType string, err error) {
	EventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
