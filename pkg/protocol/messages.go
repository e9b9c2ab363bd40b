package protocol

// Message type constants for protocol envelopes.
const (
	// Signaling link (target -> source).
	TypePeerReady  = "peer_ready"
	TypePowerState = "power_state"
	TypeBye        = "bye"
	TypeError      = "error"

	// Migration control stream (source <-> target).
	TypeMigrationSize      = "migration_size"
	TypeDefaultFlag        = "default_flag"
	TypeMigrationCompleted = "migration_completed"
	TypeAck                = "ack"
	TypePing               = "ping"
	TypePong               = "pong"
)

// PeerReady announces that the target device is ready to receive a run.
// It is meaningful at most once per run; duplicates are ignored.
type PeerReady struct {
	PeerID string `json:"peer_id"`
}

// PowerState reports a change of the target's power source.
type PowerState struct {
	Connected bool `json:"connected"`
}

// Error represents an error message in the protocol.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MigrationSize announces the total run size (including the start sentinel
// byte) to the peer before any item is sent.
type MigrationSize struct {
	TotalBytes int64 `json:"total_bytes"`
	FileCount  int   `json:"file_count"`
}

// DefaultFlag carries a preference default for the peer to apply, such as
// skipping the post-migration reboot when no preferences are migrated.
type DefaultFlag struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// Ack acknowledges a control message, matched to it by msg_id.
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
