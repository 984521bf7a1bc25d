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
	"github.com/wingbeat-social/wingbeat/util"
)

// maxResolveDepth bounds recursive actor resolution. Past it we give up
// and attribute the content to the deleted-user placeholder.
const maxResolveDepth = 100

// actorStaleAfter is how old a cached remote profile may get before a
// background refresh is scheduled.
const actorStaleAfter = 24 * time.Hour

// PersonDoc is a remote actor document as fetched over federation.
type PersonDoc struct {
	Id                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Icon              struct {
		Url string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		Id           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
}

// LocalSigner returns a Signer for a local actor, parsing its stored
// private key.
func (s *Service) LocalSigner(actor *domain.Actor) (*Signer, error) {
	key, err := ParsePrivateKey(actor.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key of %s: %w", actor.Url, err)
	}
	return &Signer{Key: key, KeyId: s.Conf.ActorUrl(actor.Url) + "#main-key"}, nil
}

// AdminSigner returns a Signer for the instance admin actor, used for
// fetches not attributable to a specific local user.
func (s *Service) AdminSigner() (*Signer, error) {
	err, admin := s.DB.ReadActorByUrl(s.Conf.Conf.AdminUser)
	if err != nil {
		return nil, fmt.Errorf("admin actor missing: %w", err)
	}
	return s.LocalSigner(admin)
}

// DeletedUser returns the placeholder actor that absorbs content whose
// author cannot be resolved.
func (s *Service) DeletedUser() (*domain.Actor, error) {
	err, actor := s.DB.ReadActorByUrl(s.Conf.Conf.DeletedUser)
	if err != nil {
		return nil, fmt.Errorf("deleted-user actor missing: %w", err)
	}
	return actor, nil
}

// GetRemoteActor resolves an actor URL to a local row, fetching and
// persisting it on first sight. Resolution failures, blocked hosts and
// excessive depth all degrade to the deleted-user placeholder rather
// than failing the caller.
func (s *Service) GetRemoteActor(actorUrl string, asActor *Signer, depth int, forceUpdate bool) (*domain.Actor, error) {
	if depth >= maxResolveDepth {
		log.Warnf("actor resolution exceeded max depth at %s", actorUrl)
		return s.DeletedUser()
	}

	actorUrl = strings.TrimSpace(actorUrl)
	if actorUrl == "" {
		return s.DeletedUser()
	}

	// Local actors resolve straight from the database.
	if strings.HasPrefix(strings.ToLower(actorUrl), strings.ToLower(s.Conf.BaseUrl()+"/fediverse/blog/")) {
		handle := actorUrl[strings.LastIndex(actorUrl, "/")+1:]
		err, local := s.DB.ReadActorByUrl(handle)
		if err == nil {
			return local, nil
		}
	}

	host, err := util.ExtractHost(actorUrl)
	if err != nil {
		return s.DeletedUser()
	}
	if s.BannedHosts.Contains(host) {
		return s.DeletedUser()
	}

	err, existing := s.DB.ReadActorByRemoteId(actorUrl)
	if err == nil && !forceUpdate {
		if time.Since(existing.UpdatedAt) > actorStaleAfter {
			s.enqueueRefresh(actorUrl)
		}
		return existing, nil
	}

	doc := &PersonDoc{}
	if fetchErr := s.signedGet(actorUrl, asActor, doc); fetchErr != nil {
		log.Warnf("failed to fetch actor %s: %v", actorUrl, fetchErr)
		if existing != nil {
			return existing, nil
		}
		return s.DeletedUser()
	}
	if doc.Id == "" || doc.PreferredUsername == "" {
		log.Warnf("actor document at %s is incomplete", actorUrl)
		if existing != nil {
			return existing, nil
		}
		return s.DeletedUser()
	}

	fedHost, err := s.ensureHost(host, doc.Endpoints.SharedInbox)
	if err != nil {
		return nil, err
	}
	if fedHost.Blocked {
		s.BannedHosts.Add(host)
		return s.DeletedUser()
	}

	now := time.Now().UTC()
	actor := &domain.Actor{
		Url:             "@" + doc.PreferredUsername + "@" + host,
		Description:     doc.Summary,
		Avatar:          doc.Icon.Url,
		PublicKey:       doc.PublicKey.PublicKeyPem,
		RemoteId:        doc.Id,
		RemoteInbox:     doc.Inbox,
		FederatedHostId: fedHost.Id,
		UpdatedAt:       now,
	}

	if existing != nil {
		actor.Id = existing.Id
		actor.CreatedAt = existing.CreatedAt
		actor.Banned = existing.Banned
		if err := s.DB.UpdateActor(actor); err != nil {
			return nil, err
		}
	} else {
		actor.Id = uuid.New()
		actor.CreatedAt = now
		if err := s.DB.CreateActor(actor); err != nil {
			// A concurrent delivery may have created the row first.
			err2, raced := s.DB.ReadActorByRemoteId(doc.Id)
			if err2 != nil {
				return nil, fmt.Errorf("failed to create actor %s: %w", doc.Id, err)
			}
			actor = raced
		}
	}

	s.Keys.Set(doc.Id, doc.PublicKey.PublicKeyPem)
	metrics.ActorsResolved.Inc()
	return actor, nil
}

// RefreshRemoteActor force-refreshes one remote actor, used by the
// refreshActor worker.
func (s *Service) RefreshRemoteActor(actorUrl string) error {
	signer, err := s.AdminSigner()
	if err != nil {
		return err
	}
	_, err = s.GetRemoteActor(actorUrl, signer, 0, true)
	return err
}

// RemoveRemoteActor deletes an actor and everything attributed to it,
// reacting to a remote account deletion. Posts that other actors replied
// to are tombstoned instead of removed so their threads stay navigable.
func (s *Service) RemoveRemoteActor(actor *domain.Actor) error {
	err, postIds := s.DB.ReadPostIdsByAuthor(actor.Id)
	if err != nil {
		return err
	}
	for _, id := range postIds {
		err, children := s.DB.CountChildren(id)
		if err != nil {
			return err
		}
		if children > 0 {
			if err := s.DB.TombstonePost(id, time.Now().UTC()); err != nil {
				return err
			}
			continue
		}
		if err := s.DB.DeletePost(id); err != nil {
			return err
		}
	}
	if err := s.DB.DeleteFollowsOfActor(actor.Id); err != nil {
		return err
	}
	if err := s.DB.DeleteLikesOfActor(actor.Id); err != nil {
		return err
	}
	if err := s.DB.DeleteMentionsOfActor(actor.Id); err != nil {
		return err
	}
	s.Keys.Invalidate(actor.RemoteId)
	return s.DB.DeleteActor(actor.Id)
}

// enqueueRefresh schedules a background profile refresh. The job id is
// derived from the actor URL so repeated requests collapse into one job.
func (s *Service) enqueueRefresh(actorUrl string) {
	payload, err := json.Marshal(domain.RefreshActorPayload{ActorUrl: actorUrl})
	if err != nil {
		log.Errorf("failed to marshal refresh payload: %v", err)
		return
	}
	now := time.Now().UTC()
	job := &domain.Job{
		Id:          "refreshActor:" + actorUrl,
		Kind:        domain.JobRefreshActor,
		Payload:     string(payload),
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := s.DB.EnqueueJob(job); err != nil {
		log.Errorf("failed to enqueue actor refresh for %s: %v", actorUrl, err)
	}
}

// ensureHost returns the federated host row for a hostname, creating it
// lazily on first contact.
func (s *Service) ensureHost(host string, sharedInbox string) (*domain.FederatedHost, error) {
	err, existing := s.DB.ReadHostByName(host)
	if err == nil {
		if existing.PublicInbox == "" && sharedInbox != "" {
			// Backfill a shared inbox we learned about later.
			if err := s.DB.SetHostInbox(existing.Id, sharedInbox); err == nil {
				existing.PublicInbox = sharedInbox
			}
		}
		return existing, nil
	}

	fedHost := &domain.FederatedHost{
		Id:          uuid.New(),
		DisplayName: strings.ToLower(host),
		PublicInbox: sharedInbox,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.DB.CreateHost(fedHost); err != nil {
		err2, raced := s.DB.ReadHostByName(host)
		if err2 != nil {
			return nil, fmt.Errorf("failed to create host %s: %w", host, err)
		}
		return raced, nil
	}
	return fedHost, nil
}
