package dbrouter

import (
	"fmt"
	"log/slog"
	"time"
)

type LogEvent interface {
	EventName() string
	Message() string
	LogLevel() slog.Level
	LogAttrs() []slog.Attr
}

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	Component string
	EventTime time.Time
}

func NewBaseEvent(component string) BaseEvent {
	return BaseEvent{
		Component: component,
		EventTime: time.Now(),
	}
}

func (e BaseEvent) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("component", e.Component),
		slog.Time("event_time", e.EventTime),
	}
}

// NodeEvent identifies the pool an event is about.
type NodeEvent struct {
	BaseEvent
	Group int
	Role  string
	Addr  string
}

func (e NodeEvent) nodeAttrs() []slog.Attr {
	return append(e.baseAttrs(),
		slog.Int("group", e.Group),
		slog.String("role", e.Role),
		slog.String("addr", e.Addr),
	)
}

type PoolAddedEvent struct {
	NodeEvent
	Capacity int
}

func (e PoolAddedEvent) EventName() string    { return "pool_added" }
func (e PoolAddedEvent) Message() string      { return "Pool registered" }
func (e PoolAddedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e PoolAddedEvent) LogAttrs() []slog.Attr {
	return append(e.nodeAttrs(), slog.Int("capacity", e.Capacity))
}

type AcquireFailedEvent struct {
	NodeEvent
	Error error
}

func (e AcquireFailedEvent) EventName() string    { return "acquire_failed" }
func (e AcquireFailedEvent) Message() string      { return "Failed to acquire connection" }
func (e AcquireFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e AcquireFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.nodeAttrs()
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type NodeRemovedEvent struct {
	NodeEvent
	Failures int
	Error    error
}

func (e NodeRemovedEvent) EventName() string { return "node_removed" }
func (e NodeRemovedEvent) Message() string {
	return fmt.Sprintf("Node removed from rotation after %d failure(s)", e.Failures)
}
func (e NodeRemovedEvent) LogLevel() slog.Level { return slog.LevelError }
func (e NodeRemovedEvent) LogAttrs() []slog.Attr {
	attrs := append(e.nodeAttrs(), slog.Int("failures", e.Failures))
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type NodeRestoredEvent struct {
	NodeEvent
}

func (e NodeRestoredEvent) EventName() string     { return "node_restored" }
func (e NodeRestoredEvent) Message() string       { return "Node returned to rotation" }
func (e NodeRestoredEvent) LogLevel() slog.Level  { return slog.LevelInfo }
func (e NodeRestoredEvent) LogAttrs() []slog.Attr { return e.nodeAttrs() }

type HealthCheckFailedEvent struct {
	NodeEvent
	NextCheck time.Duration
	Error     error
}

func (e HealthCheckFailedEvent) EventName() string    { return "health_check_failed" }
func (e HealthCheckFailedEvent) Message() string      { return "Health check failed" }
func (e HealthCheckFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e HealthCheckFailedEvent) LogAttrs() []slog.Attr {
	attrs := append(e.nodeAttrs(), slog.String("next_check", e.NextCheck.String()))
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type DoubleReleaseEvent struct {
	NodeEvent
	LeaseID string
}

func (e DoubleReleaseEvent) EventName() string { return "double_release" }
func (e DoubleReleaseEvent) Message() string {
	return fmt.Sprintf("Lease %s released more than once", e.LeaseID)
}
func (e DoubleReleaseEvent) LogLevel() slog.Level { return slog.LevelError }
func (e DoubleReleaseEvent) LogAttrs() []slog.Attr {
	return append(e.nodeAttrs(), slog.String("lease_id", e.LeaseID))
}

type LeakedLeaseEvent struct {
	NodeEvent
	LeaseID string
	Age     time.Duration
}

func (e LeakedLeaseEvent) EventName() string { return "leaked_lease" }
func (e LeakedLeaseEvent) Message() string {
	return fmt.Sprintf("Lease %s was never released", e.LeaseID)
}
func (e LeakedLeaseEvent) LogLevel() slog.Level { return slog.LevelError }
func (e LeakedLeaseEvent) LogAttrs() []slog.Attr {
	return append(e.nodeAttrs(),
		slog.String("lease_id", e.LeaseID),
		slog.String("age", e.Age.String()),
	)
}

type ShardConnectedEvent struct {
	BaseEvent
	Shard int
	Addr  string
}

func (e ShardConnectedEvent) EventName() string { return "shard_connected" }
func (e ShardConnectedEvent) Message() string {
	return fmt.Sprintf("Shard %d master connected", e.Shard)
}
func (e ShardConnectedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ShardConnectedEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(), slog.Int("shard", e.Shard), slog.String("addr", e.Addr))
}

type ConnectFailedEvent struct {
	BaseEvent
	Shard int
	Addr  string
	Error error
}

func (e ConnectFailedEvent) EventName() string    { return "connect_failed" }
func (e ConnectFailedEvent) Message() string      { return "Connect failed" }
func (e ConnectFailedEvent) LogLevel() slog.Level { return slog.LevelError }
func (e ConnectFailedEvent) LogAttrs() []slog.Attr {
	attrs := append(e.baseAttrs(), slog.Int("shard", e.Shard), slog.String("addr", e.Addr))
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type AdminCommandEvent struct {
	BaseEvent
	Command   string
	Namespace string
	Error     error
}

func (e AdminCommandEvent) EventName() string { return "admin_command" }
func (e AdminCommandEvent) Message() string {
	return fmt.Sprintf("Admin command %s on %s", e.Command, e.Namespace)
}
func (e AdminCommandEvent) LogLevel() slog.Level {
	if e.Error != nil {
		return slog.LevelError
	}
	return slog.LevelInfo
}
func (e AdminCommandEvent) LogAttrs() []slog.Attr {
	attrs := append(e.baseAttrs(),
		slog.String("command", e.Command),
		slog.String("namespace", e.Namespace),
	)
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type StateChangedEvent struct {
	BaseEvent
	From State
	To   State
}

func (e StateChangedEvent) EventName() string { return "state_changed" }
func (e StateChangedEvent) Message() string {
	return fmt.Sprintf("State changed from %s to %s", e.From, e.To)
}
func (e StateChangedEvent) LogLevel() slog.Level { return slog.LevelDebug }
func (e StateChangedEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(),
		slog.String("from", e.From.String()),
		slog.String("to", e.To.String()),
	)
}
