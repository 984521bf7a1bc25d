package activitypub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wingbeat-social/wingbeat/domain"
)

// newInboxServer records every body POSTed to it, so tests can assert on
// the activities we deliver in response to inbound ones.
func newInboxServer(t *testing.T) (*httptest.Server, func() [][]byte) {
	var mu sync.Mutex
	var bodies [][]byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read delivered body: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	return ts, func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte{}, bodies...)
	}
}

func marshalActivity(t *testing.T, activity map[string]interface{}) []byte {
	body, err := json.Marshal(activity)
	if err != nil {
		t.Fatalf("Failed to marshal activity: %v", err)
	}
	return body
}

func createRemotePost(t *testing.T, svc *Service, author *domain.Actor, remoteId string, parentId uuid.UUID) *domain.Post {
	now := time.Now().UTC()
	post := &domain.Post{
		Id:           uuid.New(),
		Content:      "<p>a remote post</p>",
		Privacy:      domain.PrivacyPublic,
		AuthorId:     author.Id,
		ParentId:     parentId,
		RemotePostId: remoteId,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := svc.DB.CreatePost(post); err != nil {
		t.Fatalf("Failed to create remote post: %v", err)
	}
	return post
}

func TestHandleFollowCreatesEdgeAndAccepts(t *testing.T) {
	svc := newTestService(t)
	ts, delivered := newInboxServer(t)
	defer ts.Close()
	svc.Client = ts.Client()

	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", ts.URL+"/inbox")

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/follows/1",
		"type":   "Follow",
		"actor":  bob.RemoteId,
		"object": svc.Conf.ActorUrl("alice"),
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, follow := svc.DB.ReadFollowByPair(bob.Id, alice.Id)
	if err != nil {
		t.Fatalf("Follow edge missing: %v", err)
	}
	if !follow.Accepted {
		t.Error("Inbound follow not marked accepted")
	}
	if follow.RemoteFollowId != "https://remote.example/follows/1" {
		t.Errorf("Wrong correlation id %s", follow.RemoteFollowId)
	}

	bodies := delivered()
	if len(bodies) != 1 {
		t.Fatalf("Expected 1 delivered accept, got %d", len(bodies))
	}
	var accept struct {
		Type   string `json:"type"`
		Actor  string `json:"actor"`
		Object struct {
			Id   string `json:"id"`
			Type string `json:"type"`
		} `json:"object"`
	}
	if err := json.Unmarshal(bodies[0], &accept); err != nil {
		t.Fatalf("Failed to parse accept: %v", err)
	}
	if accept.Type != "Accept" || accept.Object.Type != "Follow" {
		t.Errorf("Unexpected reply activity: %+v", accept)
	}
	if accept.Object.Id != "https://remote.example/follows/1" {
		t.Errorf("Accept does not echo the follow id, got %s", accept.Object.Id)
	}
	if accept.Actor != svc.Conf.ActorUrl("alice") {
		t.Errorf("Accept sent as %s", accept.Actor)
	}
}

func TestHandleFollowRepeatRefreshesCorrelationId(t *testing.T) {
	svc := newTestService(t)
	ts, _ := newInboxServer(t)
	defer ts.Close()
	svc.Client = ts.Client()

	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", ts.URL+"/inbox")

	for _, followId := range []string{"https://remote.example/follows/1", "https://remote.example/follows/2"} {
		body := marshalActivity(t, map[string]interface{}{
			"id":     followId,
			"type":   "Follow",
			"actor":  bob.RemoteId,
			"object": svc.Conf.ActorUrl("alice"),
		})
		if err := svc.HandleActivity(body, ""); err != nil {
			t.Fatalf("HandleActivity failed: %v", err)
		}
	}

	err, follow := svc.DB.ReadFollowByPair(bob.Id, alice.Id)
	if err != nil {
		t.Fatal(err)
	}
	if follow.RemoteFollowId != "https://remote.example/follows/2" {
		t.Errorf("Repeated follow did not refresh correlation id, got %s", follow.RemoteFollowId)
	}
}

func TestHandleAcceptMarksOutboundFollow(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	follow := &domain.Follow{
		Id:         uuid.New(),
		FollowerId: alice.Id,
		FollowedId: bob.Id,
		CreatedAt:  time.Now().UTC(),
	}
	if err := svc.DB.CreateFollow(follow); err != nil {
		t.Fatal(err)
	}

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/accepts/1",
		"type":  "Accept",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":     svc.Conf.BaseUrl() + "/fediverse/follows/" + follow.Id.String(),
			"type":   "Follow",
			"actor":  svc.Conf.ActorUrl("alice"),
			"object": bob.RemoteId,
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, updated := svc.DB.ReadFollowByPair(alice.Id, bob.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Accepted {
		t.Error("Accept did not mark the outbound follow accepted")
	}
}

func TestHandleUndoFollow(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	follow := &domain.Follow{
		Id:             uuid.New(),
		FollowerId:     bob.Id,
		FollowedId:     alice.Id,
		RemoteFollowId: "https://remote.example/follows/1",
		Accepted:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := svc.DB.CreateFollow(follow); err != nil {
		t.Fatal(err)
	}

	// An Undo naming a different follow activity must not remove the edge.
	mismatch := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/undos/1",
		"type":  "Undo",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":     "https://remote.example/follows/other",
			"type":   "Follow",
			"actor":  bob.RemoteId,
			"object": svc.Conf.ActorUrl("alice"),
		},
	})
	if err := svc.HandleActivity(mismatch, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadFollowByPair(bob.Id, alice.Id); err != nil {
		t.Fatal("Edge removed by an undo with the wrong correlation id")
	}

	match := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/undos/2",
		"type":  "Undo",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":     "https://remote.example/follows/1",
			"type":   "Follow",
			"actor":  bob.RemoteId,
			"object": svc.Conf.ActorUrl("alice"),
		},
	})
	if err := svc.HandleActivity(match, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadFollowByPair(bob.Id, alice.Id); err == nil {
		t.Error("Edge survived a matching undo")
	}
}

func TestHandleLikeOfLocalPost(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	post := createLocalPost(t, svc, alice, uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/likes/1",
		"type":   "Like",
		"actor":  bob.RemoteId,
		"object": svc.Conf.PostUrl(post.Id),
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, like := svc.DB.ReadLikeByRemoteId("https://remote.example/likes/1")
	if err != nil {
		t.Fatalf("Like row missing: %v", err)
	}
	if like.ActorId != bob.Id || like.PostId != post.Id {
		t.Errorf("Like stored against wrong rows: %+v", like)
	}

	// Redelivery of the same like is acknowledged without a second row.
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("Redelivered like failed: %v", err)
	}
}

func TestHandleLikeOfUnknownPostIsDropped(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/likes/2",
		"type":   "Like",
		"actor":  bob.RemoteId,
		"object": "https://elsewhere.example/notes/unseen",
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("Like of unknown post should be acked, got %v", err)
	}
	if err, _ := svc.DB.ReadLikeByRemoteId("https://remote.example/likes/2"); err == nil {
		t.Error("Like of unknown post was stored")
	}
}

func TestHandleUndoNestedLike(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	post := createLocalPost(t, svc, alice, uuid.Nil)

	like := &domain.Like{
		Id:        uuid.New(),
		ActorId:   bob.Id,
		PostId:    post.Id,
		RemoteId:  "https://remote.example/likes/9",
		CreatedAt: time.Now().UTC(),
	}
	if err := svc.DB.CreateLike(like); err != nil {
		t.Fatal(err)
	}

	// A doubly wrapped retraction names the like by the inner envelope's
	// own id.
	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/undos/3",
		"type":  "Undo",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":     "https://remote.example/likes/9",
			"type":   "Undo",
			"actor":  bob.RemoteId,
			"object": svc.Conf.PostUrl(post.Id),
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadLikeByRemoteId("https://remote.example/likes/9"); err == nil {
		t.Error("Nested undo did not remove the like")
	}
}

func TestHandleAnnounceCreatesBoost(t *testing.T) {
	svc := newTestService(t)
	ts, delivered := newInboxServer(t)
	defer ts.Close()
	svc.Client = ts.Client()

	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", ts.URL+"/inbox")
	post := createLocalPost(t, svc, alice, uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/boosts/1",
		"type":   "Announce",
		"actor":  bob.RemoteId,
		"object": svc.Conf.PostUrl(post.Id),
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, boost := svc.DB.ReadPostByRemoteId("https://remote.example/boosts/1")
	if err != nil {
		t.Fatalf("Boost row missing: %v", err)
	}
	if boost.Content != "" {
		t.Errorf("Boost should be an empty child, got content %q", boost.Content)
	}
	if boost.ParentId != post.Id || boost.AuthorId != bob.Id {
		t.Errorf("Boost linked wrong: %+v", boost)
	}

	// The instance actor acknowledges the boost.
	bodies := delivered()
	if len(bodies) != 1 {
		t.Fatalf("Expected 1 delivered accept, got %d", len(bodies))
	}
	var accept struct {
		Type   string `json:"type"`
		Object struct {
			Id   string `json:"id"`
			Type string `json:"type"`
		} `json:"object"`
	}
	if err := json.Unmarshal(bodies[0], &accept); err != nil {
		t.Fatalf("Failed to parse accept: %v", err)
	}
	if accept.Type != "Accept" || accept.Object.Type != "Announce" {
		t.Errorf("Unexpected reply activity: %+v", accept)
	}
	if accept.Object.Id != "https://remote.example/boosts/1" {
		t.Errorf("Accept does not echo the announce id, got %s", accept.Object.Id)
	}

	// Redelivery is idempotent.
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("Redelivered announce failed: %v", err)
	}
	err, count := svc.DB.CountPostsByRemoteId("https://remote.example/boosts/1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 boost row, got %d", count)
	}
}

func TestHandleUndoAnnounceReparentsReplies(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	boosted := createLocalPost(t, svc, alice, uuid.Nil)
	boost := createRemotePost(t, svc, bob, "https://remote.example/boosts/1", boosted.Id)
	reply := createRemotePost(t, svc, bob, "https://remote.example/notes/reply", boost.Id)

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/undos/1",
		"type":  "Undo",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":     "https://remote.example/boosts/1",
			"type":   "Announce",
			"actor":  bob.RemoteId,
			"object": svc.Conf.PostUrl(boosted.Id),
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	if err, _ := svc.DB.ReadPostById(boost.Id); err == nil {
		t.Error("Boost row survived its undo")
	}
	err, moved := svc.DB.ReadPostById(reply.Id)
	if err != nil {
		t.Fatalf("Reply lost during undo: %v", err)
	}
	if moved.ParentId != boosted.Id {
		t.Errorf("Reply not reparented to the boosted post, parent is %s", moved.ParentId)
	}
}

func TestHandleCreateIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/creates/1",
		"type":  "Create",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":           "https://remote.example/notes/1",
			"type":         "Note",
			"content":      "<p>hello</p>",
			"attributedTo": bob.RemoteId,
			"to":           []string{publicAudience},
		},
	})
	for i := 0; i < 2; i++ {
		if err := svc.HandleActivity(body, ""); err != nil {
			t.Fatalf("HandleActivity failed: %v", err)
		}
	}

	err, count := svc.DB.CountPostsByRemoteId("https://remote.example/notes/1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 post row, got %d", count)
	}

	err, post := svc.DB.ReadPostByRemoteId("https://remote.example/notes/1")
	if err != nil {
		t.Fatal(err)
	}
	if post.AuthorId != bob.Id || post.Privacy != domain.PrivacyPublic {
		t.Errorf("Unexpected post row: %+v", post)
	}
}

func TestHandleUpdateEditsKnownPost(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	post := createRemotePost(t, svc, bob, "https://remote.example/notes/1", uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/updates/1",
		"type":  "Update",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":           "https://remote.example/notes/1",
			"type":         "Note",
			"content":      "<p>fixed typo</p>",
			"summary":      "now with cw",
			"attributedTo": bob.RemoteId,
			"attachment": []map[string]interface{}{
				{"type": "Document", "url": "https://remote.example/media/new.png", "name": "added later"},
			},
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, updated := svc.DB.ReadPostById(post.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(updated.Content, "<p>fixed typo</p>") {
		t.Errorf("Content not replaced: %q", updated.Content)
	}
	if !strings.Contains(updated.Content, "<p>Edited at ") {
		t.Errorf("Edit marker missing: %q", updated.Content)
	}
	if updated.ContentWarning != "now with cw" {
		t.Errorf("Content warning not updated: %q", updated.ContentWarning)
	}

	err, medias := svc.DB.ReadMediasByPostId(post.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(*medias) != 1 || (*medias)[0].Url != "https://remote.example/media/new.png" {
		t.Errorf("Edit did not ingest the new attachment: %+v", *medias)
	}
}

func TestHandleUpdateRebuildsChangedPoll(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	question := func(options []string) map[string]interface{} {
		var oneOf []map[string]interface{}
		for _, name := range options {
			oneOf = append(oneOf, map[string]interface{}{
				"type":    "Note",
				"name":    name,
				"replies": map[string]interface{}{"totalItems": 1},
			})
		}
		return map[string]interface{}{
			"id":           "https://remote.example/polls/1",
			"type":         "Question",
			"content":      "<p>pick one</p>",
			"attributedTo": bob.RemoteId,
			"to":           []string{publicAudience},
			"oneOf":        oneOf,
		}
	}

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/creates/1",
		"type":   "Create",
		"actor":  bob.RemoteId,
		"object": question([]string{"tea", "coffee"}),
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, post := svc.DB.ReadPostByRemoteId("https://remote.example/polls/1")
	if err != nil {
		t.Fatal(err)
	}
	err, poll := svc.DB.ReadPollByPostId(post.Id)
	if err != nil {
		t.Fatalf("Poll row missing: %v", err)
	}

	// Same option count on a later sighting leaves the stored rows alone.
	update := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/updates/1",
		"type":   "Update",
		"actor":  bob.RemoteId,
		"object": question([]string{"tea", "coffee"}),
	})
	if err := svc.HandleActivity(update, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	err, questions := svc.DB.ReadPollQuestions(poll.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(*questions) != 2 {
		t.Fatalf("Expected 2 options after no-op update, got %d", len(*questions))
	}

	// A changed option count rebuilds the option set wholesale.
	update = marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/updates/2",
		"type":   "Update",
		"actor":  bob.RemoteId,
		"object": question([]string{"tea", "coffee", "water"}),
	})
	if err := svc.HandleActivity(update, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	err, questions = svc.DB.ReadPollQuestions(poll.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(*questions) != 3 {
		t.Errorf("Expected 3 options after rebuild, got %d", len(*questions))
	}
	names := map[string]bool{}
	for _, q := range *questions {
		names[q.QuestionText] = true
	}
	if !names["water"] {
		t.Errorf("Rebuilt options missing the new entry: %+v", *questions)
	}
}

func TestHandleDeletePostWithRepliesTombstones(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	parent := createRemotePost(t, svc, bob, "https://remote.example/notes/parent", uuid.Nil)
	createRemotePost(t, svc, bob, "https://remote.example/notes/child", parent.Id)

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/deletes/1",
		"type":  "Delete",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":   "https://remote.example/notes/parent",
			"type": "Tombstone",
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, tombstoned := svc.DB.ReadPostById(parent.Id)
	if err != nil {
		t.Fatal("Post with replies should be tombstoned, not removed")
	}
	if tombstoned.Content != domain.DeletedPostContent {
		t.Errorf("Expected tombstone content, got %q", tombstoned.Content)
	}
}

func TestHandleDeleteLeafPostRemovesIt(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	leaf := createRemotePost(t, svc, bob, "https://remote.example/notes/leaf", uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/deletes/2",
		"type":   "Delete",
		"actor":  bob.RemoteId,
		"object": "https://remote.example/notes/leaf",
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadPostById(leaf.Id); err == nil {
		t.Error("Leaf post survived its delete")
	}
}

func TestHandleDeleteActorRemovesAccount(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	createRemotePost(t, svc, bob, "https://remote.example/notes/1", uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/deletes/3",
		"type":   "Delete",
		"actor":  bob.RemoteId,
		"object": bob.RemoteId,
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	if err, _ := svc.DB.ReadActorByRemoteId(bob.RemoteId); err == nil {
		t.Error("Actor row survived account deletion")
	}
	if err, _ := svc.DB.ReadPostByRemoteId("https://remote.example/notes/1"); err == nil {
		t.Error("Posts survived account deletion")
	}
}

func TestHandleCreateRecoversFromStalledDelivery(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	noteId := "https://remote.example/notes/stalled"
	// Another delivery claims the note but dies without writing a row.
	svc.Inflight.Add(noteId)
	go func() {
		time.Sleep(200 * time.Millisecond)
		svc.Inflight.Remove(noteId)
	}()

	body := marshalActivity(t, map[string]interface{}{
		"id":    "https://remote.example/creates/stalled",
		"type":  "Create",
		"actor": bob.RemoteId,
		"object": map[string]interface{}{
			"id":           noteId,
			"type":         "Note",
			"content":      "<p>second chance</p>",
			"attributedTo": bob.RemoteId,
			"to":           []string{publicAudience},
		},
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, count := svc.DB.CountPostsByRemoteId(noteId)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected the waiting delivery to take over, got %d rows", count)
	}
}

func TestHandleActivityDropsMismatchedSender(t *testing.T) {
	svc := newTestService(t)
	alice := createLocalActor(t, svc, "alice")
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")
	post := createLocalPost(t, svc, alice, uuid.Nil)

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/likes/spoofed",
		"type":   "Like",
		"actor":  bob.RemoteId,
		"object": svc.Conf.PostUrl(post.Id),
	})
	// The signature belonged to someone else entirely.
	if err := svc.HandleActivity(body, "https://remote.example/users/mallory"); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadLikeByRemoteId("https://remote.example/likes/spoofed"); err == nil {
		t.Error("Activity with a mismatched signer was processed")
	}

	// The matching signer goes through.
	if err := svc.HandleActivity(body, bob.RemoteId); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}
	if err, _ := svc.DB.ReadLikeByRemoteId("https://remote.example/likes/spoofed"); err != nil {
		t.Error("Activity with the matching signer was dropped")
	}
}

func TestHandleUnknownActivityIsAcknowledged(t *testing.T) {
	svc := newTestService(t)
	bob := createRemoteActor(t, svc, "@bob@remote.example", "https://remote.example/users/bob", "https://remote.example/inbox")

	body := marshalActivity(t, map[string]interface{}{
		"id":     "https://remote.example/moves/1",
		"type":   "Move",
		"actor":  bob.RemoteId,
		"object": "https://remote.example/users/bob",
	})
	if err := svc.HandleActivity(body, ""); err != nil {
		t.Errorf("Unknown activity type should be dropped silently, got %v", err)
	}
}
