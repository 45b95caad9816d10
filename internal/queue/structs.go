package queue

import "time"

// JobQueue carries job requests to the worker pool.
const JobQueue = "reel.jobs"

type JobRequest struct {
	JobID         string    `yaml:"jobId"`
	SourceAssetID string    `yaml:"sourceAssetId"`
	OwnerID       string    `yaml:"ownerId"`
	Attempt       int       `yaml:"attempt"`
	NotBefore     time.Time `yaml:"notBefore,omitempty"`

	// Trace carries the submitter's trace context.
	Trace map[string]string `yaml:"trace,omitempty"`
}
