package task

const ResourceRetryTaskType = "ResourceRetryTask"

// ResourceRetryTask re-runs extraction of a single list item whose icon download failed.
type ResourceRetryTask struct {
	PageNumber   int    `json:"page_number"`   // Listing page the fragment came from
	Fragment     string `json:"fragment"`      // Outer HTML of the list item
	RetryCount   int    `json:"retry_count"`   // Number of times this item has been retried
	Error        string `json:"error"`         // Error message from the original failure
	FailureStage string `json:"failure_stage"` // "extract" or "save" - which stage failed
}

func (t *ResourceRetryTask) TaskType() string {
	return ResourceRetryTaskType
}

func (t *ResourceRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
