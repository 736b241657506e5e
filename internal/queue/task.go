package queue

type TaskType string

const (
	// TaskTypeUsageRecord carries one LLM call's token accounting to the
	// worker for persistence.
	TaskTypeUsageRecord TaskType = "usage_record"
	// TaskTypeMemoryFold asks the worker to fold a conversation's recent
	// history into its long-term memory profile.
	TaskTypeMemoryFold TaskType = "memory_fold"
)
