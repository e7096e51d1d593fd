package core

// EventType categorizes merge events
type EventType string

const (
	EventTypeStart EventType = "start"
	EventTypeRound EventType = "round"
	EventTypeBlock EventType = "block"
	EventTypeError EventType = "error"
	EventTypeDone  EventType = "done"
)

// WorkerState is the position of a worker inside one round
type WorkerState string

const (
	WorkerPublishing       WorkerState = "publishing"
	WorkerAwaitingBarrierA WorkerState = "awaiting_barrier_a"
	WorkerReducing         WorkerState = "reducing"
	WorkerAwaitingBarrierB WorkerState = "awaiting_barrier_b"
	WorkerTerminal         WorkerState = "terminal"
)

// Role identifies a protocol participant
type Role string

const (
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
)
