package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post privacy levels.
const (
	PrivacyPublic    = 0
	PrivacyFollowers = 1
	PrivacyDirect    = 2
)

// DeletedPostContent replaces the body of a post that was deleted while it
// still had replies, so the thread below it stays connected.
const DeletedPostContent = "<p>This post has been deleted</p>"

// Post is a node of a strictly tree-shaped thread. ParentId is uuid.Nil
// for thread roots; cycles are impossible by construction because a parent
// is always persisted before any of its children.
type Post struct {
	Id             uuid.UUID
	Content        string
	ContentWarning string
	Privacy        int
	AuthorId       uuid.UUID
	ParentId       uuid.UUID // uuid.Nil for roots
	RemotePostId   string    // canonical object URL; empty for local posts
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Media is an attachment, either uploaded locally or mirrored by URL from
// a remote instance.
type Media struct {
	Id          uuid.UUID
	Url         string
	Description string
	NSFW        bool
	ActorId     uuid.UUID
	PostId      uuid.UUID
	External    bool
	CreatedAt   time.Time
}

// PostTag is one hashtag attached to a post.
type PostTag struct {
	Id      uuid.UUID
	PostId  uuid.UUID
	TagName string
}
