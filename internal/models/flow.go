package models

// FlowState is the active page state of an upload session.
type FlowState string

const (
	FlowStateUpload     FlowState = "upload"
	FlowStateProcessing FlowState = "processing"
	FlowStateResults    FlowState = "results"
	FlowStateError      FlowState = "error"
)

// FlowSnapshot is a read-only copy of an upload session's state.
type FlowSnapshot struct {
	SessionID    string              `json:"sessionId" msgpack:"sessionId"`
	State        FlowState           `json:"state" msgpack:"state"`
	Tier         string              `json:"tier" msgpack:"tier"`
	File         *SelectedFile       `json:"file,omitempty" msgpack:"file,omitempty"`
	Result       *SegmentationResult `json:"result,omitempty" msgpack:"result,omitempty"`
	Error        *UploadError        `json:"error,omitempty" msgpack:"error,omitempty"`
	SubmissionID string              `json:"submissionId,omitempty" msgpack:"submissionId,omitempty"`
}
