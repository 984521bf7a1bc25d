package domain

import (
	"time"

	"github.com/google/uuid"
)

// Poll is attached 1:1 to a post built from a remote Question object.
type Poll struct {
	Id          uuid.UUID
	PostId      uuid.UUID
	EndDate     time.Time
	MultiChoice bool
}

// PollQuestion is one option of a poll. RemoteReplies mirrors the vote
// count the origin server reports; votes are never tallied locally.
type PollQuestion struct {
	Id            uuid.UUID
	PollId        uuid.UUID
	Index         int
	QuestionText  string
	RemoteReplies int
}
