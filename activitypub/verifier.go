package activitypub

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-fed/httpsig"
	log "github.com/sirupsen/logrus"
	"github.com/wingbeat-social/wingbeat/metrics"
	"github.com/wingbeat-social/wingbeat/util"
)

// SenderKey is the gin context key under which the middleware stores the
// verified sender's actor URL.
const SenderKey = "verifiedSender"

// VerifySignature is the inbox gate: it checks the Digest header against
// the body, resolves the signer's public key (cache first, network on
// miss) and verifies the HTTP signature. Key rotation is handled by one
// forced re-fetch before giving up.
func (s *Service) VerifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Signature") == "" || c.GetHeader("Date") == "" {
			s.reject(c, http.StatusForbidden, "missing signature")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.reject(c, http.StatusForbidden, "unreadable body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if c.Request.Method == http.MethodPost {
			digest := c.GetHeader("Digest")
			if digest == "" || !strings.EqualFold(digest, Digest(body)) {
				s.reject(c, http.StatusForbidden, "digest mismatch")
				return
			}
		}

		verifier, err := httpsig.NewVerifier(c.Request)
		if err != nil {
			s.reject(c, http.StatusForbidden, "unparseable signature")
			return
		}
		keyUrl := strings.Split(verifier.KeyId(), "#")[0]

		host, err := util.ExtractHost(keyUrl)
		if err != nil || s.BannedHosts.Contains(host) {
			s.reject(c, http.StatusForbidden, "blocked host")
			return
		}

		pem, ok := s.Keys.Get(keyUrl)
		if !ok {
			pem, err = s.fetchKey(keyUrl, false)
			if err != nil {
				s.reject(c, http.StatusForbidden, "unresolvable key")
				return
			}
		}

		sender, err := VerifyRequest(c.Request, pem)
		if err != nil {
			// The actor may have rotated its key since we cached it.
			pem, refreshErr := s.fetchKey(keyUrl, true)
			if refreshErr != nil {
				s.reject(c, http.StatusForbidden, "invalid signature")
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			sender, err = VerifyRequest(c.Request, pem)
			if err != nil {
				s.reject(c, http.StatusForbidden, "invalid signature")
				return
			}
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(SenderKey, sender)
		c.Next()
	}
}

// fetchKey resolves an actor URL to its public key PEM, updating the
// cache.
func (s *Service) fetchKey(keyUrl string, forceUpdate bool) (string, error) {
	signer, err := s.AdminSigner()
	if err != nil {
		return "", err
	}
	if forceUpdate {
		s.Keys.Invalidate(keyUrl)
	}
	actor, err := s.GetRemoteActor(keyUrl, signer, 0, forceUpdate)
	if err != nil {
		return "", err
	}
	if actor.PublicKey == "" {
		return "", fmt.Errorf("actor %s has no public key", keyUrl)
	}
	s.Keys.Set(keyUrl, actor.PublicKey)
	return actor.PublicKey, nil
}

func (s *Service) reject(c *gin.Context, status int, reason string) {
	metrics.SignatureRejections.Inc()
	log.Tracef("rejected inbox request from %s: %s", c.ClientIP(), reason)
	c.AbortWithStatusJSON(status, gin.H{"error": reason})
}
