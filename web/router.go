package web

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wingbeat-social/wingbeat/activitypub"
)

const activityJson = "application/activity+json; charset=utf-8"

// NewRouter builds the federation HTTP surface. Exported separately from
// Serve so tests can drive it with httptest.
func NewRouter(svc *activitypub.Service) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter limits on the inbox endpoints: 5 req/sec per IP, 1MB body
	inboxLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	conf := svc.Conf
	database := svc.DB

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		err, resp := GetWebfinger(database, resource, conf)
		if resource == "" || err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		c.Render(200, render.String{Format: resp})
	})

	g.GET("/.well-known/host-meta", func(c *gin.Context) {
		c.Header("Content-Type", "application/xrd+xml; charset=utf-8")
		c.Render(200, render.String{Format: GetHostMeta(conf)})
	})

	g.GET("/fediverse/blog/:handle", func(c *gin.Context) {
		c.Header("Content-Type", activityJson)
		err, actor := GetActor(database, c.Param("handle"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
			return
		}
		c.Render(200, render.String{Format: actor})
	})

	g.GET("/fediverse/blog/:handle/followers", func(c *gin.Context) {
		err, doc := GetFollowersCollection(database, c.Param("handle"), conf, c.Query("page") != "")
		renderCollectionEndpoint(c, err, doc)
	})

	g.GET("/fediverse/blog/:handle/following", func(c *gin.Context) {
		err, doc := GetFollowingCollection(database, c.Param("handle"), conf, c.Query("page") != "")
		renderCollectionEndpoint(c, err, doc)
	})

	g.GET("/fediverse/blog/:handle/featured", func(c *gin.Context) {
		err, doc := GetFeaturedCollection(database, c.Param("handle"), conf)
		renderCollectionEndpoint(c, err, doc)
	})

	g.GET("/fediverse/blog/:handle/outbox", func(c *gin.Context) {
		err, doc := GetOutboxCollection(database, c.Param("handle"), conf, c.Query("page") != "")
		renderCollectionEndpoint(c, err, doc)
	})

	g.GET("/fediverse/post/:id", func(c *gin.Context) {
		c.Header("Content-Type", activityJson)

		postId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid post ID"})
			return
		}

		err, note, gone := GetNoteObject(svc, postId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Post not found"})
			return
		}
		if gone {
			c.Render(http.StatusGone, render.String{Format: note})
			return
		}
		c.Render(200, render.String{Format: note})
	})

	inboxHandler := func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Status(400)
			return
		}
		sender := c.GetString(activitypub.SenderKey)
		// Federated peers expect a fast ack; the dispatch happens off the
		// request goroutine.
		c.Status(200)
		go func() {
			if err := svc.HandleActivity(body, sender); err != nil {
				log.Warnf("failed to handle activity: %v", err)
			}
		}()
	}

	inboxStack := []gin.HandlerFunc{
		RateLimitMiddleware(inboxLimiter),
		maxBodySize,
		svc.VerifySignature(),
		inboxHandler,
	}
	// The addressed actor must exist before we bother verifying anything.
	knownHandle := func(c *gin.Context) {
		if err, _ := database.ReadActorByUrl(c.Param("handle")); err != nil {
			c.AbortWithStatusJSON(404, gin.H{"error": "User not found"})
			return
		}
		c.Next()
	}

	g.POST("/fediverse/sharedInbox", inboxStack...)
	g.POST("/fediverse/blog/:handle/inbox", append([]gin.HandlerFunc{knownHandle}, inboxStack...)...)

	g.GET("/feed/:handle", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		rss, err := GetRSS(database, conf, c.Param("handle"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		c.Render(200, render.String{Format: rss})
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return g
}

func renderCollectionEndpoint(c *gin.Context, err error, doc string) {
	c.Header("Content-Type", activityJson)
	if err != nil {
		c.Render(404, render.String{Format: doc})
		return
	}
	c.Render(200, render.String{Format: doc})
}

// Serve runs the router until the listener fails.
func Serve(svc *activitypub.Service) error {
	log.Infof("starting federation server on %s:%d", svc.Conf.Conf.Host, svc.Conf.Conf.HttpPort)
	return NewRouter(svc).Run(fmt.Sprintf(":%d", svc.Conf.Conf.HttpPort))
}
