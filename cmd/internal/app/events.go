package app

import (
	"labdash/cmd/internal/realtime"
	v1 "labdash/shared/contracts/realtime/v1"
)

const eventLogConsumer = "app.eventlog"

// registerEventLog logs every inbound event kind. It is the headless client's
// only consumer; dashboards register their own.
func registerEventLog(d *realtime.Dispatcher, log Logger) {
	realtime.On(d, eventLogConsumer, v1.TypeDeviceStatus, func(p v1.DeviceStatusPayload) {
		log.Info("event.device_status", "device_id", p.DeviceID, "status", p.Status, "message", p.Message)
	})
	realtime.On(d, eventLogConsumer, v1.TypeDeviceTelemetry, func(p v1.DeviceTelemetryPayload) {
		log.Debug("event.device_telemetry", "device_id", p.DeviceID, "readings", len(p.Readings), "seq", p.SequenceNo)
	})
	realtime.On(d, eventLogConsumer, v1.TypeExperimentLifecycle, func(p v1.ExperimentLifecyclePayload) {
		log.Info("event.experiment_lifecycle", "experiment_id", p.ExperimentID, "phase", p.Phase, "previous", p.Previous)
	})
	realtime.On(d, eventLogConsumer, v1.TypeExperimentProgress, func(p v1.ExperimentProgressPayload) {
		log.Debug("event.experiment_progress", "experiment_id", p.ExperimentID, "step", p.Step, "total", p.TotalSteps, "percent", p.Percent)
	})
	realtime.On(d, eventLogConsumer, v1.TypeOrgNotification, func(p v1.OrgNotificationPayload) {
		log.Info("event.org_notification", "org_id", p.OrgID, "severity", p.Severity, "title", p.Title)
	})
}
