package rpc

type RegisterWorkerRequest struct {
	Hostname     string            `json:"hostname"`
	Address      string            `json:"address"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

type RegisterWorkerResponse struct {
	WorkerId                 string `json:"worker_id"`
	HeartbeatIntervalSeconds int64  `json:"heartbeat_interval_seconds"`
}

type HeartbeatRequest struct {
	WorkerId     string `json:"worker_id"`
	Status       string `json:"status"`
	CurrentJobId string `json:"current_job_id,omitempty"`
}

// HeartbeatResponse carries the coordinator's view of the worker.
// AssignedJobId is empty when the worker holds no job.
type HeartbeatResponse struct {
	Acknowledged  bool   `json:"acknowledged"`
	Status        string `json:"status"`
	AssignedJobId string `json:"assigned_job_id,omitempty"`
}

type PullJobRequest struct {
	WorkerId string `json:"worker_id"`
}

type JobAssignment struct {
	JobId string `json:"job_id"`
	Url   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// PullJobResponse has a nil Job when nothing is assigned.
type PullJobResponse struct {
	Job *JobAssignment `json:"job,omitempty"`
}

type ReportProgressRequest struct {
	JobId          string `json:"job_id"`
	WorkerId       string `json:"worker_id"`
	Status         string `json:"status"`
	TotalItems     int64  `json:"total_items"`
	ProcessedItems int64  `json:"processed_items"`
	FailedItems    int64  `json:"failed_items"`
	CurrentItem    string `json:"current_item,omitempty"`
	Message        string `json:"message,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ResultLocation string `json:"result_location,omitempty"`
}

type ReportProgressResponse struct {
	Accepted  bool   `json:"accepted"`
	JobStatus string `json:"job_status"`
}

type UnregisterWorkerRequest struct {
	WorkerId string `json:"worker_id"`
	Reason   string `json:"reason,omitempty"`
}

type UnregisterWorkerResponse struct{}
