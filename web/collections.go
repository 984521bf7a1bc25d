package web

import (
	"encoding/json"

	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/util"
)

const collectionPageSize = 20

type orderedCollection struct {
	Context    string `json:"@context"`
	Id         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first,omitempty"`
}

type orderedCollectionPage struct {
	Context      string   `json:"@context"`
	Id           string   `json:"id"`
	Type         string   `json:"type"`
	PartOf       string   `json:"partOf"`
	TotalItems   int      `json:"totalItems"`
	OrderedItems []string `json:"orderedItems"`
	Next         string   `json:"next,omitempty"`
}

func renderCollection(collectionUrl string, items []string, page bool) (error, string) {
	if !page {
		doc := orderedCollection{
			Context:    "https://www.w3.org/ns/activitystreams",
			Id:         collectionUrl,
			Type:       "OrderedCollection",
			TotalItems: len(items),
			First:      collectionUrl + "?page=1",
		}
		body, err := json.Marshal(doc)
		return err, string(body)
	}

	shown := items
	if len(shown) > collectionPageSize {
		shown = shown[:collectionPageSize]
	}
	doc := orderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		Id:           collectionUrl + "?page=1",
		Type:         "OrderedCollectionPage",
		PartOf:       collectionUrl,
		TotalItems:   len(items),
		OrderedItems: shown,
	}
	body, err := json.Marshal(doc)
	return err, string(body)
}

// actorItemUrl is the federated id of a follow endpoint: the remote id
// when the actor lives elsewhere, our own actor URL otherwise.
func actorItemUrl(actor *domain.Actor, conf *util.AppConfig) string {
	if actor.IsRemote() {
		return actor.RemoteId
	}
	return conf.ActorUrl(actor.Url)
}

// GetFollowersCollection renders who follows a local actor.
func GetFollowersCollection(database *db.DB, handle string, conf *util.AppConfig, page bool) (error, string) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, "{}"
	}
	err, follows := database.ReadFollowersOfActor(actor.Id)
	if err != nil {
		return err, "{}"
	}

	var items []string
	for _, follow := range *follows {
		err, follower := database.ReadActorById(follow.FollowerId)
		if err != nil {
			continue
		}
		items = append(items, actorItemUrl(follower, conf))
	}
	return renderCollection(conf.ActorUrl(actor.Url)+"/followers", items, page)
}

// GetFollowingCollection renders who a local actor follows.
func GetFollowingCollection(database *db.DB, handle string, conf *util.AppConfig, page bool) (error, string) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, "{}"
	}
	err, follows := database.ReadFollowingOfActor(actor.Id)
	if err != nil {
		return err, "{}"
	}

	var items []string
	for _, follow := range *follows {
		err, followed := database.ReadActorById(follow.FollowedId)
		if err != nil {
			continue
		}
		items = append(items, actorItemUrl(followed, conf))
	}
	return renderCollection(conf.ActorUrl(actor.Url)+"/following", items, page)
}

// GetFeaturedCollection renders the pinned-posts collection. Pins are not
// tracked yet, so the collection is always empty, which federated peers
// handle fine.
func GetFeaturedCollection(database *db.DB, handle string, conf *util.AppConfig) (error, string) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, "{}"
	}
	return renderCollection(conf.ActorUrl(actor.Url)+"/featured", nil, false)
}

// GetOutboxCollection renders a local actor's recent public posts.
func GetOutboxCollection(database *db.DB, handle string, conf *util.AppConfig, page bool) (error, string) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, "{}"
	}
	err, posts := database.ReadPostsByAuthor(actor.Id, collectionPageSize)
	if err != nil {
		return err, "{}"
	}

	var items []string
	for _, post := range *posts {
		if post.Privacy != domain.PrivacyPublic {
			continue
		}
		items = append(items, conf.PostUrl(post.Id))
	}
	return renderCollection(conf.ActorUrl(actor.Url)+"/outbox", items, page)
}
