package constants

import "time"

// Handler defaults
const (
	// DefaultRecordsDays is the default look-back window of the records listing
	DefaultRecordsDays = 7

	// DefaultRecordsLimit is the default number of records returned by the listing
	DefaultRecordsLimit = 100

	// MaxRecordsLimit caps the records listing
	MaxRecordsLimit = 5000

	// MaxRequestBody is the maximum JSON request size in bytes (enrollment carries several photos)
	MaxRequestBody = 64 << 20

	// MaxSyncBatch is the largest offline batch accepted in one request
	MaxSyncBatch = 500

	// SyncBudget bounds the time one sync request spends routing events. It
	// stays below the router timeout so the report is always delivered.
	SyncBudget = 90 * time.Second
)
