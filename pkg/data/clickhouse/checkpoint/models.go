package checkpoint

// Checkpoint is one persisted sync state row. State is the encoded window
// state of the stream and Timestamp, in Unix milliseconds, is the row version
// used by ReplacingMergeTree to keep the latest write.
type Checkpoint struct {
	Stream    string `json:"stream"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}
