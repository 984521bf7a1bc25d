package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	log "github.com/sirupsen/logrus"
	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/util"
)

const rssFeedSize = 50

// GetRSS renders a local actor's public posts as an RSS feed.
func GetRSS(database *db.DB, conf *util.AppConfig, handle string) (string, error) {
	err, actor := database.ReadActorByUrl(handle)
	if err != nil || actor.IsRemote() {
		log.Warnf("could not resolve feed actor %s: %v", handle, err)
		return "", errors.New("error retrieving actor for feed")
	}

	err, posts := database.ReadPostsByAuthor(actor.Id, rssFeedSize)
	if err != nil {
		log.Warnf("could not get posts of %s: %v", handle, err)
		return "", errors.New("error retrieving posts for feed")
	}

	email := fmt.Sprintf("%s@%s", actor.Url, conf.Conf.Domain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Wingbeat Posts - %s", actor.Url),
		Link:        &feeds.Link{Href: conf.BaseUrl() + "/feed/" + actor.Url},
		Description: fmt.Sprintf("public posts of %s", actor.Url),
		Author:      &feeds.Author{Name: actor.Url, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		if post.Privacy != domain.PrivacyPublic {
			continue
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   post.CreatedAt.Format(time.RFC1123),
				Link:    &feeds.Link{Href: conf.PostUrl(post.Id)},
				Content: post.Content,
				Author:  &feeds.Author{Name: actor.Url, Email: email},
				Created: post.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
