package activitypub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/util"
)

// newTestService builds a Service on an in-memory database with the admin
// and deleted-user system actors in place.
func newTestService(t *testing.T) *Service {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.Domain = "localhost"
	conf.Conf.AdminUser = "admin"
	conf.Conf.DeletedUser = "deleted_user"

	svc := NewService(database, conf)
	svc.Client.Timeout = 5 * time.Second

	createLocalActor(t, svc, conf.Conf.AdminUser)
	createLocalActor(t, svc, conf.Conf.DeletedUser)
	return svc
}

// createLocalActor inserts a local actor with a working keypair.
func createLocalActor(t *testing.T, svc *Service, handle string) *domain.Actor {
	keys := util.GeneratePemKeypair()
	now := time.Now().UTC()
	actor := &domain.Actor{
		Id:         uuid.New(),
		Url:        handle,
		PublicKey:  keys.Public,
		PrivateKey: keys.Private,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := svc.DB.CreateActor(actor); err != nil {
		t.Fatalf("Failed to create local actor %s: %v", handle, err)
	}
	return actor
}

// createRemoteActor inserts an already-resolved remote actor so tests do
// not need a network fetch for the sender.
func createRemoteActor(t *testing.T, svc *Service, handle, remoteId, inbox string) *domain.Actor {
	host, err := util.ExtractHost(remoteId)
	if err != nil {
		t.Fatalf("Bad remote id %s: %v", remoteId, err)
	}
	fedHost, err := svc.ensureHost(host, "")
	if err != nil {
		t.Fatalf("Failed to ensure host %s: %v", host, err)
	}

	keys := util.GeneratePemKeypair()
	now := time.Now().UTC()
	actor := &domain.Actor{
		Id:              uuid.New(),
		Url:             handle,
		PublicKey:       keys.Public,
		RemoteId:        remoteId,
		RemoteInbox:     inbox,
		FederatedHostId: fedHost.Id,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := svc.DB.CreateActor(actor); err != nil {
		t.Fatalf("Failed to create remote actor %s: %v", handle, err)
	}
	return actor
}

func createLocalPost(t *testing.T, svc *Service, author *domain.Actor, parentId uuid.UUID) *domain.Post {
	now := time.Now().UTC()
	post := &domain.Post{
		Id:        uuid.New(),
		Content:   "<p>a local post</p>",
		Privacy:   domain.PrivacyPublic,
		AuthorId:  author.Id,
		ParentId:  parentId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := svc.DB.CreatePost(post); err != nil {
		t.Fatalf("Failed to create local post: %v", err)
	}
	return post
}
