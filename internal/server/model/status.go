package model

// Run statuses shared by pipelines, transformations and executions.
const (
	StatusLoading     = "LOADING"
	StatusOperational = "OPERATIONAL"
	StatusMinor       = "MINOR"
	StatusCritical    = "CRITICAL"
	StatusAborted     = "ABORTED"
)

const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerStream   = "stream"
)

const (
	LanguagePython = "python"
	LanguageGo     = "go"
)

func IsTerminal(status string) bool {
	return status == StatusOperational || status == StatusCritical || status == StatusAborted
}
