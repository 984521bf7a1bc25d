package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor is a federated identity. Local actors carry a private key and an
// empty RemoteId; remote actors are cached copies of a document fetched
// from their home server, with UpdatedAt doubling as the cache freshness
// marker.
type Actor struct {
	Id              uuid.UUID
	Url             string // local handle, or @user@host for remote actors
	Description     string
	Avatar          string
	PublicKey       string
	PrivateKey      string    // local actors only
	RemoteId        string    // canonical actor URL; empty for local actors
	RemoteInbox     string    // empty for local actors
	Banned          bool
	NSFW            bool // flagged by local staff; their unlabeled posts get a fixed warning
	FederatedHostId uuid.UUID // uuid.Nil for local actors
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Actor) IsRemote() bool {
	return a.RemoteId != ""
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUrl: %s \n\tRemoteId: %s \n\tUpdatedAt: %s)", a.Id, a.Url, a.RemoteId, a.UpdatedAt)
}

// FederatedHost tracks one remote domain. A blocked host keeps receiving
// protocol acknowledgements but none of its content side effects are
// recorded.
type FederatedHost struct {
	Id          uuid.UUID
	DisplayName string // hostname, lowercase
	PublicInbox string // shared inbox URL, empty if the host has none
	Blocked     bool
	CreatedAt   time.Time
}
