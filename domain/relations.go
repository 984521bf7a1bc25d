package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow is an edge between two actors. RemoteFollowId stores the id of
// the Follow activity a remote server sent, so a later Undo can be
// correlated back to this exact edge.
type Follow struct {
	Id             uuid.UUID
	FollowerId     uuid.UUID
	FollowedId     uuid.UUID
	RemoteFollowId string
	Accepted       bool
	CreatedAt      time.Time
}

// Like is an actor→post edge, tagged with the remote activity id for Undo
// correlation.
type Like struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	PostId    uuid.UUID
	RemoteId  string
	CreatedAt time.Time
}

// Mention records that a post mentions an actor.
type Mention struct {
	Id      uuid.UUID
	PostId  uuid.UUID
	ActorId uuid.UUID
}

// Block is a direct actor-level block: Blocker does not want to hear from
// Blocked.
type Block struct {
	Id        uuid.UUID
	BlockerId uuid.UUID
	BlockedId uuid.UUID
	CreatedAt time.Time
}

// ServerBlock is an actor-level block of an entire remote host.
type ServerBlock struct {
	Id            uuid.UUID
	BlockerId     uuid.UUID
	BlockedHostId uuid.UUID
	CreatedAt     time.Time
}

// Emoji is a custom emoji referenced by remote posts. The id is the remote
// canonical emoji id, so updates from the origin server converge on one row.
type Emoji struct {
	Id        string
	Name      string
	Url       string
	External  bool
	UpdatedAt time.Time
}

// PostEmoji attaches an emoji to a post.
type PostEmoji struct {
	PostId  uuid.UUID
	EmojiId string
}
