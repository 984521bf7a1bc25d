package web

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/util"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerDoc struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []webfingerLink `json:"links"`
}

// GetWebfinger resolves an acct: resource to the actor document location.
func GetWebfinger(database *db.DB, resource string, conf *util.AppConfig) (error, string) {
	handle := strings.TrimPrefix(resource, "acct:")
	handle = strings.TrimSuffix(handle, "@"+conf.Conf.Domain)
	handle = strings.TrimPrefix(handle, "@")

	err, actor := database.ReadActorByUrl(handle)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	if actor.IsRemote() {
		return fmt.Errorf("%s is not a local actor", handle), GetWebFingerNotFound()
	}

	actorUrl := conf.ActorUrl(actor.Url)
	doc := webfingerDoc{
		Subject: "acct:" + actor.Url + "@" + conf.Conf.Domain,
		Aliases: []string{actorUrl},
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorUrl,
			},
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(body)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}

// GetHostMeta renders the xrd document pointing at the webfinger endpoint.
func GetHostMeta(conf *util.AppConfig) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" type="application/xrd+xml" template="` + conf.BaseUrl() + `/.well-known/webfinger?resource={uri}"/>
</XRD>`
}
