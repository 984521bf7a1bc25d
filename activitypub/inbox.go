package activitypub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/metrics"
)

// Activity is the inbound envelope. Object stays raw because its shape
// depends entirely on the activity type.
type Activity struct {
	Context json.RawMessage `json:"@context,omitempty"`
	Id      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	To      StringList      `json:"to,omitempty"`
	Cc      StringList      `json:"cc,omitempty"`
}

// objectString decodes an Object that is a bare id string.
func (a *Activity) objectString() (string, bool) {
	var s string
	if err := json.Unmarshal(a.Object, &s); err != nil {
		return "", false
	}
	return s, true
}

// objectId extracts the id from an Object regardless of whether it is a
// bare string or an embedded object.
func (a *Activity) objectId() string {
	if s, ok := a.objectString(); ok {
		return s
	}
	var embedded struct {
		Id string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &embedded); err != nil {
		return ""
	}
	return embedded.Id
}

// HandleActivity dispatches one verified inbound activity. verifiedSender
// is the actor URL the signature check attributed the request to; an
// activity claiming a different actor is dropped. Unknown types are
// acknowledged and dropped, so a new Fediverse verb never turns into a
// redelivery storm aimed at us.
func (s *Service) HandleActivity(body []byte, verifiedSender string) error {
	activity := &Activity{}
	if err := json.Unmarshal(body, activity); err != nil {
		return fmt.Errorf("failed to parse activity: %w", err)
	}
	if activity.Type == "" || activity.Actor == "" {
		return fmt.Errorf("activity missing type or actor")
	}
	if verifiedSender != "" && activity.Actor != verifiedSender {
		log.Debugf("dropping %s claiming %s, signed by %s", activity.Type, activity.Actor, verifiedSender)
		return nil
	}

	metrics.ActivitiesReceived.WithLabelValues(activity.Type).Inc()
	log.Debugf("inbound %s from %s", activity.Type, activity.Actor)

	signer, err := s.AdminSigner()
	if err != nil {
		return err
	}

	sender, err := s.GetRemoteActor(activity.Actor, signer, 0, false)
	if err != nil {
		return fmt.Errorf("failed to resolve sender %s: %w", activity.Actor, err)
	}
	if sender.Banned {
		return nil
	}

	switch activity.Type {
	case "Follow":
		return s.handleFollow(activity, sender, signer)
	case "Accept":
		return s.handleAccept(activity)
	case "Create":
		return s.handleCreate(activity, signer)
	case "Announce":
		return s.handleAnnounce(activity, sender, signer)
	case "Like", "EmojiReact":
		return s.handleLike(activity, sender)
	case "Undo":
		return s.handleUndo(activity)
	case "Update":
		return s.handleUpdate(activity, signer)
	case "Delete":
		return s.handleDelete(activity, sender)
	default:
		log.Debugf("ignoring activity type %s from %s", activity.Type, activity.Actor)
		return nil
	}
}

// handleFollow records the edge and answers with an Accept. A repeated
// Follow of the same pair only refreshes the correlation id.
func (s *Service) handleFollow(activity *Activity, sender *domain.Actor, signer *Signer) error {
	targetUrl := activity.objectId()
	local, err := s.localActorByUrl(targetUrl)
	if err != nil {
		return err
	}

	follow := &domain.Follow{
		Id:             uuid.New(),
		FollowerId:     sender.Id,
		FollowedId:     local.Id,
		RemoteFollowId: activity.Id,
		Accepted:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.DB.CreateFollow(follow); err != nil {
		err2, existing := s.DB.ReadFollowByPair(sender.Id, local.Id)
		if err2 != nil {
			return fmt.Errorf("failed to store follow: %w", err)
		}
		if err := s.DB.SetFollowRemoteId(existing.Id, activity.Id); err != nil {
			return err
		}
	}

	return s.SignAndAccept(activity, local, sender)
}

// handleAccept marks our pending outbound follow as accepted. The embedded
// object's id carries the follow edge id we generated when sending it.
func (s *Service) handleAccept(activity *Activity) error {
	var inner Activity
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		return nil
	}
	if inner.Type != "Follow" {
		return nil
	}
	idStr := inner.Id[strings.LastIndex(inner.Id, "/")+1:]
	followId, err := uuid.Parse(idStr)
	if err != nil {
		log.Debugf("accept with unparseable follow id %s", inner.Id)
		return nil
	}
	return s.DB.SetFollowAccepted(followId)
}

func (s *Service) handleCreate(activity *Activity, signer *Signer) error {
	note := &NoteObject{}
	if err := json.Unmarshal(activity.Object, note); err != nil {
		return fmt.Errorf("failed to parse created object: %w", err)
	}
	if note.Id == "" {
		return fmt.Errorf("created object missing id")
	}

	if !s.Inflight.Add(note.Id) {
		s.Inflight.Wait(note.Id, inflightWait)
		if err, _ := s.DB.ReadPostByRemoteId(note.Id); err == nil {
			return nil
		}
		// The owning delivery gave up without a row; take this one over.
		_, err := s.CreatePostFromNote(note, signer, 0)
		return err
	}
	defer s.Inflight.Remove(note.Id)

	_, err := s.CreatePostFromNote(note, signer, 0)
	return err
}

// handleAnnounce materializes a boost as an empty child post of the
// boosted post, authored by the announcing actor.
func (s *Service) handleAnnounce(activity *Activity, sender *domain.Actor, signer *Signer) error {
	boostedUrl := activity.objectId()
	if boostedUrl == "" {
		return fmt.Errorf("announce missing object")
	}

	boosted, err := s.GetPostThread(boostedUrl, signer, 0)
	if err != nil {
		return fmt.Errorf("failed to resolve boosted post %s: %w", boostedUrl, err)
	}

	now := time.Now().UTC()
	post := &domain.Post{
		Id:           uuid.New(),
		Content:      "",
		Privacy:      domain.PrivacyPublic,
		AuthorId:     sender.Id,
		ParentId:     boosted.Id,
		RemotePostId: activity.Id,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreatePost(post); err != nil {
		err2, _ := s.DB.ReadPostByRemoteId(activity.Id)
		if err2 != nil {
			return fmt.Errorf("failed to store announce: %w", err)
		}
		return nil
	}

	// Announces are not addressed to anyone local, so the instance actor
	// signs the acknowledgement.
	err, admin := s.DB.ReadActorByUrl(s.Conf.Conf.AdminUser)
	if err != nil {
		return nil
	}
	if err := s.SignAndAccept(activity, admin, sender); err != nil {
		log.Warnf("failed to accept announce %s: %v", activity.Id, err)
	}
	return nil
}

func (s *Service) handleLike(activity *Activity, sender *domain.Actor) error {
	postUrl := activity.objectId()
	post, err := s.knownPost(postUrl)
	if err != nil {
		// Likes of posts we do not carry are acknowledged and dropped.
		log.Debugf("like of unknown post %s", postUrl)
		return nil
	}

	like := &domain.Like{
		Id:        uuid.New(),
		ActorId:   sender.Id,
		PostId:    post.Id,
		RemoteId:  activity.Id,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.CreateLike(like); err != nil {
		err2, _ := s.DB.ReadLikeByRemoteId(activity.Id)
		if err2 != nil {
			return fmt.Errorf("failed to store like: %w", err)
		}
	}
	return nil
}

func (s *Service) handleUndo(activity *Activity) error {
	var inner Activity
	if err := json.Unmarshal(activity.Object, &inner); err != nil {
		return fmt.Errorf("failed to parse undo object: %w", err)
	}

	switch inner.Type {
	case "Follow":
		return s.DB.DeleteFollowByRemoteId(inner.Id)
	case "Like", "EmojiReact":
		return s.DB.DeleteLikeByRemoteId(inner.Id)
	case "Announce":
		err, post := s.DB.ReadPostByRemoteId(inner.Id)
		if err != nil {
			return nil
		}
		// Replies to the boost move up to the boosted post so the thread
		// stays connected.
		if err := s.DB.ReparentChildren(post.Id, post.ParentId); err != nil {
			return err
		}
		return s.DB.DeletePost(post.Id)
	case "Undo":
		// Some software wraps like retractions in a second Undo; the
		// inner envelope's own id is the like's activity id.
		return s.DB.DeleteLikeByRemoteId(inner.Id)
	default:
		log.Debugf("ignoring undo of %s", inner.Type)
		return nil
	}
}

// handleUpdate rewrites a known post's content in place, stamping an edit
// marker the way profile readers expect.
func (s *Service) handleUpdate(activity *Activity, signer *Signer) error {
	note := &NoteObject{}
	if err := json.Unmarshal(activity.Object, note); err != nil {
		return fmt.Errorf("failed to parse updated object: %w", err)
	}

	if note.Type == "Person" || (note.Type == "" && note.Content == "") {
		// Profile updates refresh the cached actor.
		return s.RefreshRemoteActor(activity.Actor)
	}

	err, post := s.DB.ReadPostByRemoteId(note.Id)
	if err != nil {
		// First sight of the object; treat it as a create.
		_, err := s.CreatePostFromNote(note, signer, 0)
		return err
	}

	post.Content = note.Content + "<p>Edited at " + time.Now().UTC().Format(time.RFC822) + "</p>"
	post.ContentWarning = note.Summary
	post.UpdatedAt = time.Now().UTC()
	if err := s.DB.UpdatePost(post); err != nil {
		return err
	}

	if err, author := s.DB.ReadActorById(post.AuthorId); err == nil {
		s.attachMedia(post, note, author)
	}
	s.attachPoll(post, note)
	return nil
}

// handleDelete covers both account deletions (bare string object naming
// the actor itself) and post deletions (Tombstone).
func (s *Service) handleDelete(activity *Activity, sender *domain.Actor) error {
	if objUrl, ok := activity.objectString(); ok {
		if objUrl == activity.Actor {
			return s.RemoveRemoteActor(sender)
		}
		return s.deletePostByRemoteId(objUrl)
	}

	var tombstone struct {
		Id   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(activity.Object, &tombstone); err != nil {
		return fmt.Errorf("failed to parse delete object: %w", err)
	}
	if tombstone.Type != "Tombstone" {
		log.Debugf("ignoring delete of %s", tombstone.Type)
		return nil
	}
	return s.deletePostByRemoteId(tombstone.Id)
}

// deletePostByRemoteId removes a post, or tombstones it when replies hang
// off it so the thread stays navigable.
func (s *Service) deletePostByRemoteId(remoteId string) error {
	err, post := s.DB.ReadPostByRemoteId(remoteId)
	if err != nil {
		return nil
	}
	err, children := s.DB.CountChildren(post.Id)
	if err != nil {
		return err
	}
	if children > 0 {
		return s.DB.TombstonePost(post.Id, time.Now().UTC())
	}
	return s.DB.DeletePost(post.Id)
}

// knownPost resolves a post URL to a row without touching the network:
// either a local post URL or an already-federated remote id.
func (s *Service) knownPost(postUrl string) (*domain.Post, error) {
	if localId, ok := s.localPostId(postUrl); ok {
		err, post := s.DB.ReadPostById(localId)
		return post, err
	}
	err, post := s.DB.ReadPostByRemoteId(postUrl)
	return post, err
}

// localActorByUrl maps a local actor URL back to its database row.
func (s *Service) localActorByUrl(actorUrl string) (*domain.Actor, error) {
	prefix := s.Conf.BaseUrl() + "/fediverse/blog/"
	if !strings.HasPrefix(strings.ToLower(actorUrl), strings.ToLower(prefix)) {
		return nil, fmt.Errorf("not a local actor url: %s", actorUrl)
	}
	handle := actorUrl[strings.LastIndex(actorUrl, "/")+1:]
	err, actor := s.DB.ReadActorByUrl(handle)
	if err != nil {
		return nil, fmt.Errorf("local actor %s not found: %w", handle, err)
	}
	return actor, nil
}
