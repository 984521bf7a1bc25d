package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wingbeat-social/wingbeat/activitypub"
	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/domain"
	"github.com/wingbeat-social/wingbeat/util"
	"github.com/wingbeat-social/wingbeat/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()

	if err := ensureSystemActors(database, conf); err != nil {
		log.Fatalln(err)
	}

	svc := activitypub.NewService(database, conf)
	if err := svc.Keys.Warm(database); err != nil {
		log.Warnf("could not warm key cache: %v", err)
	}
	if err := svc.BannedHosts.Reload(database); err != nil {
		log.Warnf("could not load host blocklist: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.StartWorker(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Conf.HttpPort),
		Handler: web.NewRouter(svc),
	}

	go func() {
		log.Infof("starting federation server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Info("stopping federation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalln(err)
	}
}

// ensureSystemActors creates the admin and deleted-user actors on first
// start. The deleted-user actor absorbs content whose author cannot be
// resolved, so federation depends on it existing.
func ensureSystemActors(database *db.DB, conf *util.AppConfig) error {
	for _, handle := range []string{conf.Conf.AdminUser, conf.Conf.DeletedUser} {
		err, _ := database.ReadActorByUrl(handle)
		if err == nil {
			continue
		}

		keys := util.GeneratePemKeypair()
		now := time.Now().UTC()
		actor := &domain.Actor{
			Id:         uuid.New(),
			Url:        handle,
			PublicKey:  keys.Public,
			PrivateKey: keys.Private,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := database.CreateActor(actor); err != nil {
			return fmt.Errorf("could not create system actor %s: %w", handle, err)
		}
		log.Infof("created system actor %s", handle)
	}
	return nil
}
