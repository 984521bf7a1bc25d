package domain

import "time"

// Job kinds understood by the background workers.
const (
	JobDeliver      = "deliver"
	JobRefreshActor = "refreshActor"
)

// Job is a row of the durable work queue. The id is caller-chosen: refresh
// jobs use the actor URL so duplicate refreshes collapse onto one row,
// delivery jobs use a fresh uuid per batch.
type Job struct {
	Id          string
	Kind        string
	Payload     string // kind-specific JSON
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// DeliverPayload is the payload of a JobDeliver job: one signed activity
// fanned out to a batch of inboxes on behalf of a local actor.
type DeliverPayload struct {
	ActorId  string   `json:"actorId"`
	Activity string   `json:"activity"`
	Inboxes  []string `json:"inboxes"`
}

// RefreshActorPayload is the payload of a JobRefreshActor job.
type RefreshActorPayload struct {
	ActorUrl string `json:"actorUrl"`
}
