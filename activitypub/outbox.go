package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/metrics"
	"github.com/wingbeat-social/wingbeat/util"
)

const activityContext = `"https://www.w3.org/ns/activitystreams"`

// deliveryChunkSize is how many inboxes one delivery job covers.
const deliveryChunkSize = 25

// SendActivity POSTs a signed activity to one remote inbox.
func (s *Service) SendActivity(inbox string, signer *Signer, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", Digest(body))

	if err := SignRequest(req, signer.Key, signer.KeyId); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Deliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("delivery to %s failed: %w", inbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.Deliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("delivery to %s rejected with status: %d", inbox, resp.StatusCode)
	}
	metrics.Deliveries.WithLabelValues("ok").Inc()
	return nil
}

// SignAndAccept answers an inbound activity with an Accept echoing its
// envelope, sent straight to the sender's inbox.
func (s *Service) SignAndAccept(activity *Activity, local *domain.Actor, remote *domain.Actor) error {
	signer, err := s.LocalSigner(local)
	if err != nil {
		return err
	}

	echoed := map[string]interface{}{
		"id":    activity.Id,
		"type":  activity.Type,
		"actor": activity.Actor,
	}
	if len(activity.Object) > 0 {
		echoed["object"] = json.RawMessage(activity.Object)
	}
	accept := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       s.Conf.ActorUrl(local.Url) + "/accept/" + uuid.NewString(),
		"type":     "Accept",
		"actor":    s.Conf.ActorUrl(local.Url),
		"object":   echoed,
	}
	body, err := json.Marshal(accept)
	if err != nil {
		return err
	}

	if remote.RemoteInbox == "" {
		return fmt.Errorf("actor %s has no inbox", remote.Url)
	}
	if err := s.SendActivity(remote.RemoteInbox, signer, body); err != nil {
		log.Warnf("failed to deliver accept to %s: %v", remote.Url, err)
		return err
	}
	return nil
}

// SendFollow asks a remote actor to let a local actor follow them. The
// activity id embeds the edge id so the eventual Accept can be matched.
func (s *Service) SendFollow(local *domain.Actor, remote *domain.Actor) error {
	signer, err := s.LocalSigner(local)
	if err != nil {
		return err
	}

	follow := &domain.Follow{
		Id:         uuid.New(),
		FollowerId: local.Id,
		FollowedId: remote.Id,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.DB.CreateFollow(follow); err != nil {
		err2, existing := s.DB.ReadFollowByPair(local.Id, remote.Id)
		if err2 != nil {
			return fmt.Errorf("failed to store follow: %w", err)
		}
		follow = existing
	}

	activity := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       s.Conf.BaseUrl() + "/fediverse/follows/" + follow.Id.String(),
		"type":     "Follow",
		"actor":    s.Conf.ActorUrl(local.Url),
		"object":   remote.RemoteId,
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return s.SendActivity(remote.RemoteInbox, signer, body)
}

// SendUndoFollow retracts a previously sent follow.
func (s *Service) SendUndoFollow(local *domain.Actor, remote *domain.Actor) error {
	err, follow := s.DB.ReadFollowByPair(local.Id, remote.Id)
	if err != nil {
		return fmt.Errorf("no follow edge to undo: %w", err)
	}
	signer, err := s.LocalSigner(local)
	if err != nil {
		return err
	}

	followId := s.Conf.BaseUrl() + "/fediverse/follows/" + follow.Id.String()
	activity := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       followId + "/undo",
		"type":     "Undo",
		"actor":    s.Conf.ActorUrl(local.Url),
		"object": map[string]interface{}{
			"id":     followId,
			"type":   "Follow",
			"actor":  s.Conf.ActorUrl(local.Url),
			"object": remote.RemoteId,
		},
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	if err := s.SendActivity(remote.RemoteInbox, signer, body); err != nil {
		return err
	}
	return s.DB.DeleteFollowByRemoteId(followId)
}

// FederatePost fans a local post out to the author's federated audience as
// a Create activity, enqueued as durable delivery jobs.
func (s *Service) FederatePost(post *domain.Post, author *domain.Actor) error {
	note, err := s.BuildNote(post, author)
	if err != nil {
		return err
	}
	activity := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       s.Conf.PostUrl(post.Id) + "/activity",
		"type":     "Create",
		"actor":    s.Conf.ActorUrl(author.Url),
		"to":       note["to"],
		"cc":       note["cc"],
		"object":   note,
	}
	return s.enqueueFanout(activity, author)
}

// FederatePostDelete announces the deletion of a local post. Unlike a
// Create, a Delete goes to every known host, not just the author's
// followers: any of them may carry a federated copy.
func (s *Service) FederatePostDelete(post *domain.Post, author *domain.Actor) error {
	activity := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       s.Conf.PostUrl(post.Id) + "/delete",
		"type":     "Delete",
		"actor":    s.Conf.ActorUrl(author.Url),
		"to":       []string{publicAudience},
		"object": map[string]interface{}{
			"id":   s.Conf.PostUrl(post.Id),
			"type": "Tombstone",
		},
	}
	inboxes, err := s.broadcastInboxes()
	if err != nil {
		return err
	}
	return s.enqueueDelivery(activity, author, inboxes)
}

// FederatePostUpdate announces an edit of a local post.
func (s *Service) FederatePostUpdate(post *domain.Post, author *domain.Actor) error {
	note, err := s.BuildNote(post, author)
	if err != nil {
		return err
	}
	activity := map[string]interface{}{
		"@context": json.RawMessage(activityContext),
		"id":       s.Conf.PostUrl(post.Id) + "/update/" + fmt.Sprint(post.UpdatedAt.Unix()),
		"type":     "Update",
		"actor":    s.Conf.ActorUrl(author.Url),
		"to":       note["to"],
		"cc":       note["cc"],
		"object":   note,
	}
	return s.enqueueFanout(activity, author)
}

// BuildNote renders a local post as an ActivityPub Note object.
func (s *Service) BuildNote(post *domain.Post, author *domain.Actor) (map[string]interface{}, error) {
	actorUrl := s.Conf.ActorUrl(author.Url)

	to := []string{publicAudience}
	cc := []string{actorUrl + "/followers"}
	switch post.Privacy {
	case domain.PrivacyFollowers:
		to = []string{actorUrl + "/followers"}
		cc = []string{}
	case domain.PrivacyDirect:
		to = []string{}
		cc = []string{}
	}

	note := map[string]interface{}{
		"id":           s.Conf.PostUrl(post.Id),
		"type":         "Note",
		"attributedTo": actorUrl,
		"content":      post.Content,
		"published":    post.CreatedAt.UTC().Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
		"sensitive":    post.ContentWarning != "",
	}
	if post.ContentWarning != "" {
		note["summary"] = post.ContentWarning
	}
	if post.ParentId != uuid.Nil {
		err, parent := s.DB.ReadPostById(post.ParentId)
		if err == nil {
			if parent.RemotePostId != "" {
				note["inReplyTo"] = parent.RemotePostId
			} else {
				note["inReplyTo"] = s.Conf.PostUrl(parent.Id)
			}
		}
	}

	err, medias := s.DB.ReadMediasByPostId(post.Id)
	if err == nil && len(*medias) > 0 {
		var attachments []map[string]interface{}
		for _, m := range *medias {
			mediaUrl := m.Url
			if !m.External {
				mediaUrl = s.Conf.Conf.MediaUrl + m.Url
			}
			attachments = append(attachments, map[string]interface{}{
				"type":      "Document",
				"url":       mediaUrl,
				"name":      m.Description,
				"sensitive": m.NSFW,
			})
		}
		note["attachment"] = attachments
	}

	err, tagNames := s.DB.ReadTagNamesByPostId(post.Id)
	if err == nil && len(tagNames) > 0 {
		var tags []map[string]interface{}
		for _, name := range tagNames {
			tags = append(tags, map[string]interface{}{
				"type": "Hashtag",
				"name": "#" + name,
				"href": s.Conf.BaseUrl() + "/tag/" + name,
			})
		}
		note["tag"] = tags
	}

	return note, nil
}

// enqueueFanout computes the audience inboxes for an author and enqueues
// delivery jobs in chunks.
func (s *Service) enqueueFanout(activity map[string]interface{}, author *domain.Actor) error {
	inboxes, err := s.audienceInboxes(author)
	if err != nil {
		return err
	}
	return s.enqueueDelivery(activity, author, inboxes)
}

// enqueueDelivery chunks an inbox list into durable delivery jobs.
func (s *Service) enqueueDelivery(activity map[string]interface{}, author *domain.Actor, inboxes []string) error {
	if len(inboxes) == 0 {
		return nil
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for start := 0; start < len(inboxes); start += deliveryChunkSize {
		end := start + deliveryChunkSize
		if end > len(inboxes) {
			end = len(inboxes)
		}
		payload, err := json.Marshal(domain.DeliverPayload{
			ActorId:  author.Id.String(),
			Activity: string(body),
			Inboxes:  inboxes[start:end],
		})
		if err != nil {
			return err
		}
		job := &domain.Job{
			Id:          uuid.NewString(),
			Kind:        domain.JobDeliver,
			Payload:     string(payload),
			NextRetryAt: now,
			CreatedAt:   now,
		}
		if err := s.DB.EnqueueJob(job); err != nil {
			return fmt.Errorf("failed to enqueue delivery: %w", err)
		}
	}
	log.Debugf("enqueued delivery of activity to %d inboxes", len(inboxes))
	return nil
}

// audienceInboxes resolves an author's follower audience to a deduplicated
// inbox list: one shared inbox per host that advertises one, individual
// inboxes elsewhere. Blocked hosts are skipped.
func (s *Service) audienceInboxes(author *domain.Actor) ([]string, error) {
	err, follows := s.DB.ReadFollowersOfActor(author.Id)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var inboxes []string
	for _, follow := range *follows {
		err, follower := s.DB.ReadActorById(follow.FollowerId)
		if err != nil || !follower.IsRemote() || follower.Banned {
			continue
		}

		host, err := util.ExtractHost(follower.RemoteInbox)
		if err != nil || s.BannedHosts.Contains(host) {
			continue
		}

		inbox := follower.RemoteInbox
		if follower.FederatedHostId != uuid.Nil {
			err, fedHost := s.DB.ReadHostById(follower.FederatedHostId)
			if err == nil {
				if fedHost.Blocked {
					continue
				}
				if fedHost.PublicInbox != "" {
					inbox = fedHost.PublicInbox
				}
			}
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}
	sort.Strings(inboxes)
	return inboxes, nil
}

// broadcastInboxes addresses every known non-blocked host: one shared
// inbox where the host advertises it, the individual inboxes of its
// non-banned actors otherwise.
func (s *Service) broadcastInboxes() ([]string, error) {
	seen := make(map[string]bool)
	var inboxes []string

	err, shared := s.DB.ReadHostsWithSharedInbox()
	if err != nil {
		return nil, err
	}
	for _, host := range *shared {
		if s.BannedHosts.Contains(host.DisplayName) {
			continue
		}
		if host.PublicInbox == "" || seen[host.PublicInbox] {
			continue
		}
		seen[host.PublicInbox] = true
		inboxes = append(inboxes, host.PublicInbox)
	}

	err, direct := s.DB.ReadHostsWithoutSharedInbox()
	if err != nil {
		return nil, err
	}
	for _, host := range *direct {
		if s.BannedHosts.Contains(host.DisplayName) {
			continue
		}
		err, actors := s.DB.ReadActorsByHostId(host.Id)
		if err != nil {
			continue
		}
		for _, actor := range *actors {
			if actor.RemoteInbox == "" || seen[actor.RemoteInbox] {
				continue
			}
			seen[actor.RemoteInbox] = true
			inboxes = append(inboxes, actor.RemoteInbox)
		}
	}

	sort.Strings(inboxes)
	return inboxes, nil
}
