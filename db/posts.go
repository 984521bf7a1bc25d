package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/wingbeat-social/wingbeat/domain"
)

// Post queries
const (
	sqlInsertPost = `INSERT INTO posts(id, content, content_warning, privacy, author_id, parent_id, remote_post_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	sqlSelectPost = `SELECT id, COALESCE(content, ''), COALESCE(content_warning, ''), privacy, author_id, COALESCE(parent_id, ''),
		COALESCE(remote_post_id, ''), created_at, updated_at FROM posts`
	sqlSelectPostById         = sqlSelectPost + ` WHERE id = ?`
	sqlSelectPostByRemoteId   = sqlSelectPost + ` WHERE remote_post_id = ?`
	sqlSelectPostsByParentId  = sqlSelectPost + ` WHERE parent_id = ?`
	sqlSelectPostsByAuthorId  = sqlSelectPost + ` WHERE author_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlCountPostsByRemoteId   = `SELECT COUNT(*) FROM posts WHERE remote_post_id = ?`
	sqlCountChildren          = `SELECT COUNT(*) FROM posts WHERE parent_id = ?`
	sqlUpdatePost             = `UPDATE posts SET content = ?, content_warning = ?, updated_at = ? WHERE id = ?`
	sqlReparentChildren       = `UPDATE posts SET parent_id = NULLIF(?, '') WHERE parent_id = ?`
	sqlDeletePost             = `DELETE FROM posts WHERE id = ?`
	sqlSelectPostIdsByAuthor  = `SELECT id FROM posts WHERE author_id = ?`
)

func (db *DB) CreatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.Content,
			post.ContentWarning,
			post.Privacy,
			post.AuthorId.String(),
			uuidOrEmpty(post.ParentId),
			post.RemotePostId,
			post.CreatedAt,
			post.UpdatedAt,
		)
		return err
	})
}

func (db *DB) scanPost(row *sql.Row) (error, *domain.Post) {
	var post domain.Post
	var idStr, authorStr, parentStr string
	err := row.Scan(&idStr, &post.Content, &post.ContentWarning, &post.Privacy, &authorStr, &parentStr,
		&post.RemotePostId, &post.CreatedAt, &post.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	post.Id = parseUuidOrNil(idStr)
	post.AuthorId = parseUuidOrNil(authorStr)
	post.ParentId = parseUuidOrNil(parentStr)
	return err, &post
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
}

func (db *DB) ReadPostByRemoteId(remoteId string) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostByRemoteId, remoteId))
}

func (db *DB) readPosts(query string, args ...interface{}) (error, *[]domain.Post) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		var idStr, authorStr, parentStr string
		if err := rows.Scan(&idStr, &post.Content, &post.ContentWarning, &post.Privacy, &authorStr, &parentStr,
			&post.RemotePostId, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return err, &posts
		}
		post.Id = parseUuidOrNil(idStr)
		post.AuthorId = parseUuidOrNil(authorStr)
		post.ParentId = parseUuidOrNil(parentStr)
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}
	return nil, &posts
}

func (db *DB) ReadChildren(postId uuid.UUID) (error, *[]domain.Post) {
	return db.readPosts(sqlSelectPostsByParentId, postId.String())
}

func (db *DB) ReadPostsByAuthor(authorId uuid.UUID, limit int) (error, *[]domain.Post) {
	return db.readPosts(sqlSelectPostsByAuthorId, authorId.String(), limit)
}

func (db *DB) CountPostsByRemoteId(remoteId string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPostsByRemoteId, remoteId).Scan(&count)
	return err, count
}

func (db *DB) CountChildren(postId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountChildren, postId.String()).Scan(&count)
	return err, count
}

func (db *DB) UpdatePost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePost, post.Content, post.ContentWarning, post.UpdatedAt, post.Id.String())
		return err
	})
}

// ReparentChildren moves every direct child of postId under newParent
// (uuid.Nil makes them roots), keeping the thread connected when a post in
// the middle is removed.
func (db *DB) ReparentChildren(postId uuid.UUID, newParent uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlReparentChildren, uuidOrEmpty(newParent), postId.String())
		return err
	})
}

// DeletePost removes the post row and its side tables.
func (db *DB) DeletePost(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		idStr := id.String()
		for _, stmt := range []string{
			`DELETE FROM likes WHERE post_id = ?`,
			`DELETE FROM mentions WHERE post_id = ?`,
			`DELETE FROM post_tags WHERE post_id = ?`,
			`DELETE FROM post_emojis WHERE post_id = ?`,
			`DELETE FROM medias WHERE post_id = ?`,
			sqlDeletePost,
		} {
			if _, err := tx.Exec(stmt, idStr); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadPostIdsByAuthor lists the ids of every post an actor wrote, used when
// a remote actor is removed.
func (db *DB) ReadPostIdsByAuthor(authorId uuid.UUID) (error, []uuid.UUID) {
	rows, err := db.db.Query(sqlSelectPostIdsByAuthor, authorId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return err, ids
		}
		ids = append(ids, parseUuidOrNil(idStr))
	}
	return rows.Err(), ids
}

// Media queries
const (
	sqlInsertMedia = `INSERT INTO medias(id, url, description, nsfw, actor_id, post_id, external, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	sqlSelectMediasByPostId = `SELECT id, url, COALESCE(description, ''), nsfw, actor_id, COALESCE(post_id, ''), external, created_at
		FROM medias WHERE post_id = ?`
)

func (db *DB) CreateMedia(media *domain.Media) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMedia,
			media.Id.String(),
			media.Url,
			media.Description,
			media.NSFW,
			media.ActorId.String(),
			uuidOrEmpty(media.PostId),
			media.External,
			media.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadMediasByPostId(postId uuid.UUID) (error, *[]domain.Media) {
	rows, err := db.db.Query(sqlSelectMediasByPostId, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var medias []domain.Media
	for rows.Next() {
		var media domain.Media
		var idStr, actorStr, postStr string
		if err := rows.Scan(&idStr, &media.Url, &media.Description, &media.NSFW, &actorStr, &postStr, &media.External, &media.CreatedAt); err != nil {
			return err, &medias
		}
		media.Id = parseUuidOrNil(idStr)
		media.ActorId = parseUuidOrNil(actorStr)
		media.PostId = parseUuidOrNil(postStr)
		medias = append(medias, media)
	}
	if err = rows.Err(); err != nil {
		return err, &medias
	}
	return nil, &medias
}

// Tag queries
const (
	sqlInsertPostTag          = `INSERT INTO post_tags(id, post_id, tag_name) VALUES (?, ?, ?)`
	sqlSelectTagNamesByPostId = `SELECT tag_name FROM post_tags WHERE post_id = ?`
)

// AddTagsToPost bulk-inserts the hashtags of one post.
func (db *DB) AddTagsToPost(postId uuid.UUID, tagNames []string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, name := range tagNames {
			if _, err := tx.Exec(sqlInsertPostTag, uuid.New().String(), postId.String(), name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) ReadTagNamesByPostId(postId uuid.UUID) (error, []string) {
	rows, err := db.db.Query(sqlSelectTagNamesByPostId, postId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err, names
		}
		names = append(names, name)
	}
	return rows.Err(), names
}

// TombstonePost blanks a post that still has replies.
func (db *DB) TombstonePost(id uuid.UUID, at time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePost, domain.DeletedPostContent, "", at, id.String())
		return err
	})
}
