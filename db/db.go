package db

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/util"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// Open opens a sqlite database at the given path and tunes it for the
// federation workload. Tests pass ":memory:".
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Warnf("Failed to enable WAL mode: %v", err)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB}, nil
}

// GetDB returns the process-wide database, opening and migrating it on
// first use.
func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open(util.ResolveFilePath("database.db"))
		if err != nil {
			panic(err)
		}
		if err := database.Migrate(); err != nil {
			panic(err)
		}
		dbInstance = database
	})

	return dbInstance
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}

	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// uuidOrEmpty renders uuid.Nil as the empty string so NULLIF can turn it
// into SQL NULL.
func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseUuidOrNil(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Actor queries
const (
	sqlInsertActor = `INSERT INTO actors(id, url, description, avatar, public_key, private_key, remote_id, remote_inbox, banned, nsfw, federated_host_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?, ?)`
	sqlSelectActor = `SELECT id, url, COALESCE(description, ''), COALESCE(avatar, ''), COALESCE(public_key, ''), COALESCE(private_key, ''),
		COALESCE(remote_id, ''), COALESCE(remote_inbox, ''), banned, nsfw, COALESCE(federated_host_id, ''), created_at, updated_at FROM actors`
	sqlSelectActorByUrl      = sqlSelectActor + ` WHERE LOWER(url) = LOWER(?)`
	sqlSelectActorById       = sqlSelectActor + ` WHERE id = ?`
	sqlSelectActorByRemoteId = sqlSelectActor + ` WHERE remote_id = ?`
	sqlSelectRemoteActors    = sqlSelectActor + ` WHERE remote_id IS NOT NULL`
	sqlSelectActorsByHostId  = sqlSelectActor + ` WHERE federated_host_id = ? AND banned = 0`
	sqlUpdateActor           = `UPDATE actors SET description = ?, avatar = ?, public_key = ?, remote_inbox = ?, banned = ?, updated_at = ? WHERE id = ?`
	sqlUpdateActorTimestamp  = `UPDATE actors SET updated_at = ? WHERE id = ?`
	sqlUpdateActorNSFW       = `UPDATE actors SET nsfw = ? WHERE id = ?`
	sqlDeleteActor           = `DELETE FROM actors WHERE id = ?`
)

func (db *DB) CreateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			actor.Id.String(),
			actor.Url,
			actor.Description,
			actor.Avatar,
			actor.PublicKey,
			actor.PrivateKey,
			actor.RemoteId,
			actor.RemoteInbox,
			actor.Banned,
			actor.NSFW,
			uuidOrEmpty(actor.FederatedHostId),
			actor.CreatedAt,
			actor.UpdatedAt,
		)
		return err
	})
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var actor domain.Actor
	var idStr, hostIdStr string
	err := row.Scan(&idStr, &actor.Url, &actor.Description, &actor.Avatar, &actor.PublicKey, &actor.PrivateKey,
		&actor.RemoteId, &actor.RemoteInbox, &actor.Banned, &actor.NSFW, &hostIdStr, &actor.CreatedAt, &actor.UpdatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	actor.Id = parseUuidOrNil(idStr)
	actor.FederatedHostId = parseUuidOrNil(hostIdStr)
	return err, &actor
}

func (db *DB) ReadActorByUrl(url string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByUrl, url))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) ReadActorByRemoteId(remoteId string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByRemoteId, remoteId))
}

func (db *DB) readActors(query string, args ...interface{}) (error, *[]domain.Actor) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		var actor domain.Actor
		var idStr, hostIdStr string
		if err := rows.Scan(&idStr, &actor.Url, &actor.Description, &actor.Avatar, &actor.PublicKey, &actor.PrivateKey,
			&actor.RemoteId, &actor.RemoteInbox, &actor.Banned, &actor.NSFW, &hostIdStr, &actor.CreatedAt, &actor.UpdatedAt); err != nil {
			return err, &actors
		}
		actor.Id = parseUuidOrNil(idStr)
		actor.FederatedHostId = parseUuidOrNil(hostIdStr)
		actors = append(actors, actor)
	}
	if err = rows.Err(); err != nil {
		return err, &actors
	}
	return nil, &actors
}

// ReadRemoteActors returns every cached remote actor, used to warm the
// public-key cache at startup.
func (db *DB) ReadRemoteActors() (error, *[]domain.Actor) {
	return db.readActors(sqlSelectRemoteActors)
}

// ReadActorsByHostId returns the non-banned actors of one remote host.
func (db *DB) ReadActorsByHostId(hostId uuid.UUID) (error, *[]domain.Actor) {
	return db.readActors(sqlSelectActorsByHostId, hostId.String())
}

// UpdateActor refreshes the mutable remote-profile fields and bumps the
// freshness marker.
func (db *DB) UpdateActor(actor *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActor,
			actor.Description,
			actor.Avatar,
			actor.PublicKey,
			actor.RemoteInbox,
			actor.Banned,
			actor.UpdatedAt,
			actor.Id.String(),
		)
		return err
	})
}

// SetActorNSFW flags or unflags an actor as NSFW by local staff.
func (db *DB) SetActorNSFW(id uuid.UUID, nsfw bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorNSFW, nsfw, id.String())
		return err
	})
}

func (db *DB) TouchActor(id uuid.UUID, at time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorTimestamp, at, id.String())
		return err
	})
}

func (db *DB) DeleteActor(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActor, id.String())
		return err
	})
}

// FederatedHost queries
const (
	sqlInsertHost = `INSERT INTO federated_hosts(id, display_name, public_inbox, blocked, created_at) VALUES (?, LOWER(?), ?, ?, ?)`
	sqlSelectHost = `SELECT id, display_name, COALESCE(public_inbox, ''), blocked, created_at FROM federated_hosts`
	sqlSelectHostByName        = sqlSelectHost + ` WHERE display_name = LOWER(?)`
	sqlSelectHostById          = sqlSelectHost + ` WHERE id = ?`
	sqlSelectBlockedHosts      = sqlSelectHost + ` WHERE blocked = 1`
	sqlSelectHostsSharedInbox  = sqlSelectHost + ` WHERE blocked = 0 AND public_inbox IS NOT NULL AND public_inbox != ''`
	sqlSelectHostsDirectInbox  = sqlSelectHost + ` WHERE blocked = 0 AND (public_inbox IS NULL OR public_inbox = '')`
	sqlUpdateHostBlocked       = `UPDATE federated_hosts SET blocked = ? WHERE id = ?`
	sqlUpdateHostInbox         = `UPDATE federated_hosts SET public_inbox = NULLIF(?, '') WHERE id = ?`
)

func (db *DB) CreateHost(host *domain.FederatedHost) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertHost,
			host.Id.String(),
			host.DisplayName,
			host.PublicInbox,
			host.Blocked,
			host.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanHost(row *sql.Row) (error, *domain.FederatedHost) {
	var host domain.FederatedHost
	var idStr string
	err := row.Scan(&idStr, &host.DisplayName, &host.PublicInbox, &host.Blocked, &host.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	host.Id = parseUuidOrNil(idStr)
	return err, &host
}

func (db *DB) ReadHostByName(name string) (error, *domain.FederatedHost) {
	return db.scanHost(db.db.QueryRow(sqlSelectHostByName, name))
}

func (db *DB) ReadHostById(id uuid.UUID) (error, *domain.FederatedHost) {
	return db.scanHost(db.db.QueryRow(sqlSelectHostById, id.String()))
}

func (db *DB) readHosts(query string) (error, *[]domain.FederatedHost) {
	rows, err := db.db.Query(query)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var hosts []domain.FederatedHost
	for rows.Next() {
		var host domain.FederatedHost
		var idStr string
		if err := rows.Scan(&idStr, &host.DisplayName, &host.PublicInbox, &host.Blocked, &host.CreatedAt); err != nil {
			return err, &hosts
		}
		host.Id = parseUuidOrNil(idStr)
		hosts = append(hosts, host)
	}
	if err = rows.Err(); err != nil {
		return err, &hosts
	}
	return nil, &hosts
}

func (db *DB) ReadBlockedHosts() (error, *[]domain.FederatedHost) {
	return db.readHosts(sqlSelectBlockedHosts)
}

// ReadHostsWithSharedInbox returns the non-blocked hosts reachable through
// one shared inbox each.
func (db *DB) ReadHostsWithSharedInbox() (error, *[]domain.FederatedHost) {
	return db.readHosts(sqlSelectHostsSharedInbox)
}

// ReadHostsWithoutSharedInbox returns the non-blocked hosts whose actors
// must be addressed inbox by inbox.
func (db *DB) ReadHostsWithoutSharedInbox() (error, *[]domain.FederatedHost) {
	return db.readHosts(sqlSelectHostsDirectInbox)
}

func (db *DB) SetHostBlocked(id uuid.UUID, blocked bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateHostBlocked, blocked, id.String())
		return err
	})
}

func (db *DB) SetHostInbox(id uuid.UUID, inbox string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateHostInbox, inbox, id.String())
		return err
	})
}
