package registry

// JobRegistry is the catalog of Zeebe job contracts served by this module.
type JobRegistry struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	Jobs        []Job  `json:"jobs"`
}

// Job documents one task type: what the BPMN model must send and what it gets back.
type Job struct {
	ID           string                 `json:"id"`
	DisplayName  string                 `json:"displayName"`
	Description  string                 `json:"description"`
	Category     string                 `json:"category"`
	Version      string                 `json:"version"`
	TaskType     string                 `json:"taskType"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema"`
	ErrorCodes   []string               `json:"errorCodes"`
	Timeout      string                 `json:"timeout"`
	Retries      int                    `json:"retries"`
	Tags         []string               `json:"tags"`
}
