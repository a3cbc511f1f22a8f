package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// JobIDPrefix marks identifiers of persisted jobs.
const JobIDPrefix = "job_"

// NewJobID returns a job identifier: JobIDPrefix followed by the 32 hex
// digits of a random UUID.
func NewJobID() string {
	u := uuid.New()
	return JobIDPrefix + hex.EncodeToString(u[:])
}
