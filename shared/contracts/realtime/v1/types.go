package v1

import "time"

// HelloPayload carries the access credential presented at connect time.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload must carry SessionID.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// RoomPayload is used by join_room and leave_room.
type RoomPayload struct {
	Room string `json:"room"`
}

// PingPayload is echoed back inside the matching pong.
type PingPayload struct {
	Nonce string `json:"nonce,omitempty"`
}

// DeviceStatusPayload reports an instrument's operational state.
type DeviceStatusPayload struct {
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// DeviceTelemetryPayload is a batch of sensor readings from one device.
type DeviceTelemetryPayload struct {
	DeviceID   string             `json:"device_id"`
	Readings   map[string]float64 `json:"readings"`
	Units      map[string]string  `json:"units,omitempty"`
	SampledAt  time.Time          `json:"sampled_at"`
	SequenceNo int64              `json:"seq,omitempty"`
}

// ExperimentLifecyclePayload reports a state transition of an experiment run.
type ExperimentLifecyclePayload struct {
	ExperimentID string    `json:"experiment_id"`
	Phase        string    `json:"phase"`
	Previous     string    `json:"previous,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	At           time.Time `json:"at"`
}

// ExperimentProgressPayload reports partial completion of a running experiment.
type ExperimentProgressPayload struct {
	ExperimentID string  `json:"experiment_id"`
	Step         int     `json:"step"`
	TotalSteps   int     `json:"total_steps"`
	Percent      float64 `json:"percent"`
	Note         string  `json:"note,omitempty"`
}

// OrgNotificationPayload is an organization-scoped notice.
type OrgNotificationPayload struct {
	OrgID    string    `json:"org_id"`
	Severity string    `json:"severity"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
