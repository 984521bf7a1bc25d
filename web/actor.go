package web

import (
	"encoding/json"
	"fmt"

	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/util"
)

type personKey struct {
	Id           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type personDoc struct {
	Context           []string          `json:"@context"`
	Id                string            `json:"id"`
	Type              string            `json:"type"`
	PreferredUsername string            `json:"preferredUsername"`
	Name              string            `json:"name"`
	Summary           string            `json:"summary,omitempty"`
	Url               string            `json:"url"`
	Inbox             string            `json:"inbox"`
	Outbox            string            `json:"outbox"`
	Followers         string            `json:"followers"`
	Following         string            `json:"following"`
	Featured          string            `json:"featured"`
	Icon              *personIcon       `json:"icon,omitempty"`
	PublicKey         personKey         `json:"publicKey"`
	Endpoints         map[string]string `json:"endpoints"`
}

type personIcon struct {
	Type string `json:"type"`
	Url  string `json:"url"`
}

// GetActor renders a local actor as an ActivityPub Person document.
func GetActor(database *db.DB, handle string, conf *util.AppConfig) (error, string) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, "{}"
	}
	if actor.IsRemote() {
		return fmt.Errorf("%s is not a local actor", handle), "{}"
	}

	actorUrl := conf.ActorUrl(actor.Url)
	doc := personDoc{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		Id:                actorUrl,
		Type:              "Person",
		PreferredUsername: actor.Url,
		Name:              actor.Url,
		Summary:           actor.Description,
		Url:               actorUrl,
		Inbox:             actorUrl + "/inbox",
		Outbox:            actorUrl + "/outbox",
		Followers:         actorUrl + "/followers",
		Following:         actorUrl + "/following",
		Featured:          actorUrl + "/featured",
		PublicKey: personKey{
			Id:           actorUrl + "#main-key",
			Owner:        actorUrl,
			PublicKeyPem: actor.PublicKey,
		},
		Endpoints: map[string]string{
			"sharedInbox": conf.BaseUrl() + "/fediverse/sharedInbox",
		},
	}
	if actor.Avatar != "" {
		doc.Icon = &personIcon{Type: "Image", Url: actor.Avatar}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(body)
}
