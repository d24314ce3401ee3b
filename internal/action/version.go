package action

// Version constants for the persisted record shape and the engine.
const (
	// RecordVersion is the queue record schema version.
	RecordVersion = "1"

	// EngineVersion is the sync engine version.
	EngineVersion = "0.1.0"
)
