package db

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/wingbeat-social/wingbeat/domain"
)

// Follow queries
const (
	sqlInsertFollow = `INSERT INTO follows(id, follower_id, followed_id, remote_follow_id, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollow = `SELECT id, follower_id, followed_id, COALESCE(remote_follow_id, ''), accepted, created_at FROM follows`
	sqlSelectFollowByPair       = sqlSelectFollow + ` WHERE follower_id = ? AND followed_id = ?`
	sqlSelectFollowersOfActor   = sqlSelectFollow + ` WHERE followed_id = ?`
	sqlSelectFollowingOfActor   = sqlSelectFollow + ` WHERE follower_id = ?`
	sqlUpdateFollowRemoteId     = `UPDATE follows SET remote_follow_id = ? WHERE id = ?`
	sqlUpdateFollowAccepted     = `UPDATE follows SET accepted = 1 WHERE id = ?`
	sqlDeleteFollowByRemoteId   = `DELETE FROM follows WHERE remote_follow_id = ?`
	sqlDeleteFollowsOfActor     = `DELETE FROM follows WHERE follower_id = ? OR followed_id = ?`
)

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.FollowerId.String(),
			follow.FollowedId.String(),
			follow.RemoteFollowId,
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, followerStr, followedStr string
	err := row.Scan(&idStr, &followerStr, &followedStr, &follow.RemoteFollowId, &follow.Accepted, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	follow.Id = parseUuidOrNil(idStr)
	follow.FollowerId = parseUuidOrNil(followerStr)
	follow.FollowedId = parseUuidOrNil(followedStr)
	return err, &follow
}

func (db *DB) ReadFollowByPair(followerId, followedId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollowByPair, followerId.String(), followedId.String()))
}

func (db *DB) readFollows(query string, args ...interface{}) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, followerStr, followedStr string
		if err := rows.Scan(&idStr, &followerStr, &followedStr, &follow.RemoteFollowId, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id = parseUuidOrNil(idStr)
		follow.FollowerId = parseUuidOrNil(followerStr)
		follow.FollowedId = parseUuidOrNil(followedStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}
	return nil, &follows
}

func (db *DB) ReadFollowersOfActor(actorId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowersOfActor, actorId.String())
}

func (db *DB) ReadFollowingOfActor(actorId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowingOfActor, actorId.String())
}

// SetFollowRemoteId stamps a follow edge with the remote activity id so a
// later Undo can find it.
func (db *DB) SetFollowRemoteId(id uuid.UUID, remoteFollowId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowRemoteId, remoteFollowId, id.String())
		return err
	})
}

// SetFollowAccepted marks an outbound follow as accepted by the remote
// side.
func (db *DB) SetFollowAccepted(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowAccepted, id.String())
		return err
	})
}

// DeleteFollowByRemoteId removes only the edge whose correlation id
// matches; a non-matching id deletes nothing.
func (db *DB) DeleteFollowByRemoteId(remoteFollowId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByRemoteId, remoteFollowId)
		return err
	})
}

func (db *DB) DeleteFollowsOfActor(actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsOfActor, actorId.String(), actorId.String())
		return err
	})
}

// Like queries
const (
	sqlInsertLike           = `INSERT INTO likes(id, actor_id, post_id, remote_id, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLikeByRemoteId = `SELECT id, actor_id, post_id, COALESCE(remote_id, ''), created_at FROM likes WHERE remote_id = ?`
	sqlDeleteLikeByRemoteId = `DELETE FROM likes WHERE remote_id = ?`
	sqlDeleteLikesOfActor   = `DELETE FROM likes WHERE actor_id = ?`
)

func (db *DB) CreateLike(like *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike,
			like.Id.String(),
			like.ActorId.String(),
			like.PostId.String(),
			like.RemoteId,
			like.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadLikeByRemoteId(remoteId string) (error, *domain.Like) {
	var like domain.Like
	var idStr, actorStr, postStr string
	err := db.db.QueryRow(sqlSelectLikeByRemoteId, remoteId).Scan(&idStr, &actorStr, &postStr, &like.RemoteId, &like.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	like.Id = parseUuidOrNil(idStr)
	like.ActorId = parseUuidOrNil(actorStr)
	like.PostId = parseUuidOrNil(postStr)
	return err, &like
}

func (db *DB) DeleteLikeByRemoteId(remoteId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikeByRemoteId, remoteId)
		return err
	})
}

func (db *DB) DeleteLikesOfActor(actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikesOfActor, actorId.String())
		return err
	})
}

// Mention queries
const (
	sqlInsertMention            = `INSERT INTO mentions(id, post_id, actor_id) VALUES (?, ?, ?)`
	sqlCountMentionsByPostId    = `SELECT COUNT(*) FROM mentions WHERE post_id = ?`
	sqlCountMentionsOfActor     = `SELECT COUNT(*) FROM mentions WHERE actor_id = ?`
	sqlDeleteMentionsOfActor    = `DELETE FROM mentions WHERE actor_id = ?`
)

func (db *DB) CreateMention(mention *domain.Mention) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMention, mention.Id.String(), mention.PostId.String(), mention.ActorId.String())
		return err
	})
}

func (db *DB) CountMentionsByPostId(postId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountMentionsByPostId, postId.String()).Scan(&count)
	return err, count
}

func (db *DB) CountMentionsOfActor(actorId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountMentionsOfActor, actorId.String()).Scan(&count)
	return err, count
}

func (db *DB) DeleteMentionsOfActor(actorId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteMentionsOfActor, actorId.String())
		return err
	})
}

// Block queries
const (
	sqlInsertBlock       = `INSERT INTO blocks(id, blocker_id, blocked_id, created_at) VALUES (?, ?, ?, ?)`
	sqlCountBlock        = `SELECT COUNT(*) FROM blocks WHERE blocker_id = ? AND blocked_id = ?`
	sqlInsertServerBlock = `INSERT INTO server_blocks(id, blocker_id, blocked_host_id, created_at) VALUES (?, ?, ?, ?)`
	sqlCountServerBlock  = `SELECT COUNT(*) FROM server_blocks WHERE blocker_id = ? AND blocked_host_id = ?`
)

func (db *DB) CreateBlock(block *domain.Block) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlock, block.Id.String(), block.BlockerId.String(), block.BlockedId.String(), block.CreatedAt)
		return err
	})
}

// HasBlock reports whether blocker has a direct block against blocked.
func (db *DB) HasBlock(blockerId, blockedId uuid.UUID) (error, bool) {
	var count int
	err := db.db.QueryRow(sqlCountBlock, blockerId.String(), blockedId.String()).Scan(&count)
	return err, count > 0
}

func (db *DB) CreateServerBlock(block *domain.ServerBlock) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertServerBlock, block.Id.String(), block.BlockerId.String(), block.BlockedHostId.String(), block.CreatedAt)
		return err
	})
}

// HasServerBlock reports whether blocker blocks the whole host.
func (db *DB) HasServerBlock(blockerId, hostId uuid.UUID) (error, bool) {
	var count int
	err := db.db.QueryRow(sqlCountServerBlock, blockerId.String(), hostId.String()).Scan(&count)
	return err, count > 0
}

// Emoji queries
const (
	sqlInsertEmoji        = `INSERT INTO emojis(id, name, url, external, updated_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectEmojiById    = `SELECT id, name, COALESCE(url, ''), external, updated_at FROM emojis WHERE id = ?`
	sqlUpdateEmoji        = `UPDATE emojis SET name = ?, url = ?, updated_at = ? WHERE id = ?`
	sqlInsertPostEmoji    = `INSERT OR IGNORE INTO post_emojis(post_id, emoji_id) VALUES (?, ?)`
	sqlCountEmojisByPost  = `SELECT COUNT(*) FROM post_emojis WHERE post_id = ?`
)

func (db *DB) CreateEmoji(emoji *domain.Emoji) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEmoji, emoji.Id, emoji.Name, emoji.Url, emoji.External, emoji.UpdatedAt)
		return err
	})
}

func (db *DB) ReadEmojiById(id string) (error, *domain.Emoji) {
	var emoji domain.Emoji
	err := db.db.QueryRow(sqlSelectEmojiById, id).Scan(&emoji.Id, &emoji.Name, &emoji.Url, &emoji.External, &emoji.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &emoji
}

func (db *DB) UpdateEmoji(emoji *domain.Emoji) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateEmoji, emoji.Name, emoji.Url, emoji.UpdatedAt, emoji.Id)
		return err
	})
}

func (db *DB) AttachEmojiToPost(postId uuid.UUID, emojiId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostEmoji, postId.String(), emojiId)
		return err
	})
}

func (db *DB) CountEmojisByPostId(postId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountEmojisByPost, postId.String()).Scan(&count)
	return err, count
}
