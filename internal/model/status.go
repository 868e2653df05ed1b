package model

type BatchStatus string

const (
	BatchWaiting BatchStatus = "Waiting"
	BatchOngoing BatchStatus = "Ongoing"
	BatchDone    BatchStatus = "Done"
)

// BatchActionStatus is one snapshot of a batch-action job.
type BatchActionStatus struct {
	Total   int         `json:"total"`
	Succeed int         `json:"succeed"`
	Failed  int         `json:"failed"`
	Status  BatchStatus `json:"status"`
}

func (s BatchActionStatus) Done() bool { return s.Status == BatchDone }

// MessageProcessingStatus is the counter stream emitted while a report is being built.
type MessageProcessingStatus struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

type Tracking string

const (
	TrackingNotStarted Tracking = "NotStarted"
	TrackingOngoing    Tracking = "Ongoing"
	TrackingStopped    Tracking = "Stopped"
	TrackingError      Tracking = "Error"
)

// TrackingStatus is the message-tracking state of one connected mailbox.
type TrackingStatus struct {
	Provider string   `json:"provider"`
	Email    string   `json:"email"`
	Status   Tracking `json:"status"`
}
