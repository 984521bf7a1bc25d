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

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// flaggedAuthorWarning labels posts by actors local staff marked NSFW when
// the post itself carries no warning.
const flaggedAuthorWarning = "User is marked as NSFW by this instance staff. Possible NSFW without tagging"

// inflightWait bounds how long a delivery waits for a concurrent creation
// of the same object to finish.
const inflightWait = 10 * time.Second

// StringList decodes a JSON value that federated software sends either as
// a single string or as an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// NoteObject is a federated post object (Note, Article, Question, ...).
type NoteObject struct {
	Id           string     `json:"id"`
	Type         string     `json:"type"`
	Content      string     `json:"content"`
	Summary      string     `json:"summary"`
	Sensitive    bool       `json:"sensitive"`
	InReplyTo    string     `json:"inReplyTo"`
	AttributedTo string     `json:"attributedTo"`
	Published    string     `json:"published"`
	EndTime      string     `json:"endTime"`
	To           StringList `json:"to"`
	Cc           StringList `json:"cc"`
	Attachment   []struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		Url       string `json:"url"`
		Name      string `json:"name"`
		Sensitive bool   `json:"sensitive"`
	} `json:"attachment"`
	Tag []struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Href string `json:"href"`
		Id   string `json:"id"`
		Icon struct {
			Url string `json:"url"`
		} `json:"icon"`
	} `json:"tag"`
	OneOf []QuestionOption `json:"oneOf"`
	AnyOf []QuestionOption `json:"anyOf"`
}

// QuestionOption is one choice of a federated poll.
type QuestionOption struct {
	Name    string `json:"name"`
	Replies struct {
		TotalItems int `json:"totalItems"`
	} `json:"replies"`
}

// GetPostThread resolves a remote post URL into a local post row, walking
// inReplyTo chains upwards so parents exist before children. Already-known
// posts short-circuit, making re-delivery of the same object idempotent.
func (s *Service) GetPostThread(postUrl string, asActor *Signer, depth int) (*domain.Post, error) {
	if depth >= maxResolveDepth {
		return nil, fmt.Errorf("thread resolution exceeded max depth at %s", postUrl)
	}

	postUrl = strings.TrimSpace(postUrl)
	if postUrl == "" {
		return nil, fmt.Errorf("empty post url")
	}

	// Replies to our own posts reference local URLs.
	if localId, ok := s.localPostId(postUrl); ok {
		err, post := s.DB.ReadPostById(localId)
		if err != nil {
			return nil, fmt.Errorf("local post %s not found: %w", postUrl, err)
		}
		return post, nil
	}

	err, existing := s.DB.ReadPostByRemoteId(postUrl)
	if err == nil {
		return existing, nil
	}

	if !s.Inflight.Add(postUrl) {
		// Another goroutine is creating this object right now.
		s.Inflight.Wait(postUrl, inflightWait)
		err, raced := s.DB.ReadPostByRemoteId(postUrl)
		if err != nil {
			return nil, fmt.Errorf("concurrent creation of %s did not complete", postUrl)
		}
		return raced, nil
	}
	defer s.Inflight.Remove(postUrl)

	note := &NoteObject{}
	if err := s.signedGet(postUrl, asActor, note); err != nil {
		return nil, fmt.Errorf("failed to fetch post %s: %w", postUrl, err)
	}
	if note.Id == "" {
		note.Id = postUrl
	}
	return s.CreatePostFromNote(note, asActor, depth)
}

// CreatePostFromNote persists an already-fetched note, resolving its
// author and parent first.
func (s *Service) CreatePostFromNote(note *NoteObject, asActor *Signer, depth int) (*domain.Post, error) {
	err, existing := s.DB.ReadPostByRemoteId(note.Id)
	if err == nil {
		return existing, nil
	}

	host, err := util.ExtractHost(note.Id)
	if err == nil && s.BannedHosts.Contains(host) {
		return nil, fmt.Errorf("post %s is from a blocked host", note.Id)
	}

	author, err := s.GetRemoteActor(note.AttributedTo, asActor, depth, false)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve author of %s: %w", note.Id, err)
	}

	parentId := uuid.Nil
	if note.InReplyTo != "" {
		parent, err := s.GetPostThread(note.InReplyTo, asActor, depth+1)
		if err != nil {
			log.Warnf("failed to resolve parent %s of %s: %v", note.InReplyTo, note.Id, err)
		} else {
			parentId = parent.Id
		}
	}

	published := time.Now().UTC()
	if note.Published != "" {
		if t, err := time.Parse(time.RFC3339, note.Published); err == nil {
			published = t.UTC()
		}
	}

	contentWarning := ""
	if note.Sensitive || note.Summary != "" {
		contentWarning = note.Summary
		if contentWarning == "" {
			contentWarning = "Sensitive content"
		}
	} else if author.NSFW {
		contentWarning = flaggedAuthorWarning
	}

	post := &domain.Post{
		Id:             uuid.New(),
		Content:        note.Content,
		ContentWarning: contentWarning,
		Privacy:        notePrivacy(note),
		AuthorId:       author.Id,
		ParentId:       parentId,
		RemotePostId:   note.Id,
		CreatedAt:      published,
		UpdatedAt:      published,
	}

	if err := s.DB.CreatePost(post); err != nil {
		// Unique remote_post_id lost a race with another delivery.
		err2, raced := s.DB.ReadPostByRemoteId(note.Id)
		if err2 != nil {
			return nil, fmt.Errorf("failed to create post %s: %w", note.Id, err)
		}
		return raced, nil
	}

	s.attachMedia(post, note, author)
	s.attachTags(post, note, asActor, author, depth)
	s.attachPoll(post, note)

	metrics.PostsResolved.Inc()
	return post, nil
}

// localPostId reports whether a URL addresses one of our own posts and
// extracts its id.
func (s *Service) localPostId(postUrl string) (uuid.UUID, bool) {
	prefix := s.Conf.PostUrlPrefix()
	if !strings.HasPrefix(strings.ToLower(postUrl), strings.ToLower(prefix)) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(postUrl, prefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// notePrivacy maps ActivityPub addressing onto the local privacy levels.
func notePrivacy(note *NoteObject) int {
	for _, target := range note.To {
		if target == publicAudience {
			return domain.PrivacyPublic
		}
	}
	for _, target := range note.Cc {
		if target == publicAudience {
			return domain.PrivacyPublic
		}
	}
	if len(note.To) > 0 && strings.Contains(note.To[0], "followers") {
		return domain.PrivacyFollowers
	}
	return domain.PrivacyDirect
}

func (s *Service) attachMedia(post *domain.Post, note *NoteObject, author *domain.Actor) {
	for _, att := range note.Attachment {
		if att.Url == "" {
			continue
		}
		media := &domain.Media{
			Id:          uuid.New(),
			Url:         att.Url,
			Description: att.Name,
			NSFW:        att.Sensitive || note.Sensitive,
			ActorId:     author.Id,
			PostId:      post.Id,
			External:    true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.DB.CreateMedia(media); err != nil {
			log.Warnf("failed to store attachment %s: %v", att.Url, err)
		}
	}
}

// attachTags extracts hashtags, mentions and custom emojis from the note's
// tag array. Mentions of local users who block the author, or whose server
// block covers the author's host, are dropped.
func (s *Service) attachTags(post *domain.Post, note *NoteObject, asActor *Signer, author *domain.Actor, depth int) {
	var tagNames []string
	for _, tag := range note.Tag {
		switch tag.Type {
		case "Hashtag":
			name := strings.TrimPrefix(tag.Name, "#")
			if name != "" {
				tagNames = append(tagNames, name)
			}
		case "Mention":
			if tag.Href == "" {
				continue
			}
			mentioned, err := s.GetRemoteActor(tag.Href, asActor, depth+1, false)
			if err != nil {
				log.Warnf("failed to resolve mention %s: %v", tag.Href, err)
				continue
			}
			if s.mentionBlocked(mentioned, author) {
				continue
			}
			mention := &domain.Mention{Id: uuid.New(), PostId: post.Id, ActorId: mentioned.Id}
			if err := s.DB.CreateMention(mention); err != nil {
				log.Warnf("failed to store mention of %s: %v", mentioned.Url, err)
			}
		case "Emoji":
			if tag.Id == "" || tag.Icon.Url == "" {
				continue
			}
			s.upsertEmoji(post, tag.Id, tag.Name, tag.Icon.Url)
		}
	}
	if len(tagNames) > 0 {
		if err := s.DB.AddTagsToPost(post.Id, tagNames); err != nil {
			log.Warnf("failed to store tags of %s: %v", post.Id, err)
		}
	}
}

func (s *Service) mentionBlocked(mentioned *domain.Actor, author *domain.Actor) bool {
	if mentioned.IsRemote() {
		return false
	}
	if err, blocked := s.DB.HasBlock(mentioned.Id, author.Id); err == nil && blocked {
		return true
	}
	if author.FederatedHostId != uuid.Nil {
		if err, blocked := s.DB.HasServerBlock(mentioned.Id, author.FederatedHostId); err == nil && blocked {
			return true
		}
	}
	return false
}

func (s *Service) upsertEmoji(post *domain.Post, id, name, iconUrl string) {
	emoji := &domain.Emoji{
		Id:        id,
		Name:      name,
		Url:       iconUrl,
		External:  true,
		UpdatedAt: time.Now().UTC(),
	}
	if err, _ := s.DB.ReadEmojiById(id); err == nil {
		if err := s.DB.UpdateEmoji(emoji); err != nil {
			log.Warnf("failed to update emoji %s: %v", id, err)
		}
	} else if err := s.DB.CreateEmoji(emoji); err != nil {
		log.Warnf("failed to store emoji %s: %v", id, err)
	}
	if err := s.DB.AttachEmojiToPost(post.Id, id); err != nil {
		log.Warnf("failed to attach emoji %s to %s: %v", id, post.Id, err)
	}
}

// attachPoll stores Question options. oneOf means single choice, anyOf
// multiple choice. On a repeat sighting a changed option count means the
// remote rebuilt the poll, so the stored options are replaced wholesale;
// a matching count leaves them untouched.
func (s *Service) attachPoll(post *domain.Post, note *NoteObject) {
	if note.Type != "Question" {
		return
	}
	options := note.OneOf
	multi := false
	if len(options) == 0 {
		options = note.AnyOf
		multi = true
	}
	if len(options) == 0 {
		return
	}

	endDate := time.Now().UTC()
	if note.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, note.EndTime); err == nil {
			endDate = t.UTC()
		}
	}

	err, poll := s.DB.ReadPollByPostId(post.Id)
	if err != nil {
		poll = &domain.Poll{Id: uuid.New(), PostId: post.Id, EndDate: endDate, MultiChoice: multi}
		if err := s.DB.CreatePoll(poll); err != nil {
			log.Warnf("failed to store poll of %s: %v", post.Id, err)
			return
		}
	} else {
		err, existing := s.DB.ReadPollQuestions(poll.Id)
		if err != nil {
			log.Warnf("failed to read poll options of %s: %v", post.Id, err)
			return
		}
		if len(*existing) == len(options) {
			return
		}
		if err := s.DB.DeletePollQuestions(poll.Id); err != nil {
			log.Warnf("failed to clear poll options of %s: %v", post.Id, err)
			return
		}
	}
	for i, opt := range options {
		question := &domain.PollQuestion{
			Id:            uuid.New(),
			PollId:        poll.Id,
			Index:         i,
			QuestionText:  opt.Name,
			RemoteReplies: opt.Replies.TotalItems,
		}
		if err := s.DB.CreatePollQuestion(question); err != nil {
			log.Warnf("failed to store poll option of %s: %v", post.Id, err)
		}
	}
}
