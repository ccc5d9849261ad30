package task

const ResourcePageTaskType = "ResourcePageTask"

type ResourcePageTask struct {
	PageNumber int      `json:"page_number"` // Listing page the fragments came from
	Fragments  []string `json:"fragments"`   // Outer HTML of each list item
}

func (t *ResourcePageTask) TaskType() string {
	return ResourcePageTaskType
}

func (t *ResourcePageTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
