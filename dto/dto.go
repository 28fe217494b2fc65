// Package dto holds payload records carried as params or results of RPC calls.
package dto

// EventType is the lifecycle stage reported by an installer.
type EventType string

const (
	EventStarting EventType = "STARTING"
	EventRunning  EventType = "RUNNING"
	EventFailed   EventType = "FAILED"
)

// InstallerStatusEvent is pushed to interested endpoints while an installer runs.
type InstallerStatusEvent struct {
	EventType     EventType `json:"eventType,omitempty" msgpack:"eventType,omitempty"`
	InstallerName string    `json:"installerName,omitempty" msgpack:"installerName,omitempty"`
	Error         string    `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp     string    `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// WithEventType and the other With methods return a modified copy.
func (e InstallerStatusEvent) WithEventType(t EventType) InstallerStatusEvent {
	e.EventType = t
	return e
}

func (e InstallerStatusEvent) WithInstallerName(name string) InstallerStatusEvent {
	e.InstallerName = name
	return e
}

func (e InstallerStatusEvent) WithError(msg string) InstallerStatusEvent {
	e.Error = msg
	return e
}

func (e InstallerStatusEvent) WithTimestamp(ts string) InstallerStatusEvent {
	e.Timestamp = ts
	return e
}

// WorkspaceStatus mirrors the runtime state of a workspace.
type WorkspaceStatus string

const (
	WorkspaceStarting WorkspaceStatus = "STARTING"
	WorkspaceRunning  WorkspaceStatus = "RUNNING"
	WorkspaceStopped  WorkspaceStatus = "STOPPED"
)

// Workspace is the result of a workspace lookup.
type Workspace struct {
	ID     string          `json:"id,omitempty"`
	Status WorkspaceStatus `json:"status"`
}

// WorkspaceRef names a workspace in request params.
type WorkspaceRef struct {
	ID string `json:"id"`
}
