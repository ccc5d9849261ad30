package task

const PageRetryTaskType = "PageRetryTask"

type PageRetryTask struct {
	PageNumber int    `json:"page_number"` // Failed page number
	RetryCount int    `json:"retry_count"` // Number of times this page has been retried
	Error      string `json:"error"`       // Error message from the original failure
}

func (t *PageRetryTask) TaskType() string {
	return PageRetryTaskType
}

func (t *PageRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
