package web

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/wingbeat-social/wingbeat/activitypub"
	"github.com/wingbeat-social/wingbeat/domain"
)

// GetNoteObject renders a local post as its federated Note document. The
// bool reports whether the post is tombstoned, which callers serve as 410.
func GetNoteObject(svc *activitypub.Service, postId uuid.UUID) (error, string, bool) {
	err, post := svc.DB.ReadPostById(postId)
	if err != nil {
		return err, "{}", false
	}
	if post.RemotePostId != "" {
		return fmt.Errorf("post %s is not local", postId), "{}", false
	}

	if post.Content == domain.DeletedPostContent {
		tombstone := map[string]interface{}{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       svc.Conf.PostUrl(post.Id),
			"type":     "Tombstone",
			"deleted":  post.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		body, err := json.Marshal(tombstone)
		return err, string(body), true
	}

	err, author := svc.DB.ReadActorById(post.AuthorId)
	if err != nil {
		return err, "{}", false
	}

	note, err := svc.BuildNote(post, author)
	if err != nil {
		return err, "{}", false
	}
	note["@context"] = "https://www.w3.org/ns/activitystreams"

	body, err := json.Marshal(note)
	if err != nil {
		return err, "{}", false
	}
	return nil, string(body), false
}
