package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/wingbeat-social/wingbeat/domain"
)

const (
	workerInterval  = 10 * time.Second
	workerBatchSize = 50
	maxJobAttempts  = 3
)

// StartWorker runs the background job loop until the context is
// cancelled. One loop handles both delivery and actor-refresh jobs.
func (s *Service) StartWorker(ctx context.Context) {
	ticker := time.NewTicker(workerInterval)
	defer ticker.Stop()

	log.Info("federation worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("federation worker stopped")
			return
		case <-ticker.C:
			s.ProcessDueJobs()
		}
	}
}

// ProcessDueJobs runs one pass over the queue. Exported so tests can pump
// the queue without a ticker.
func (s *Service) ProcessDueJobs() {
	err, jobs := s.DB.ReadDueJobs(workerBatchSize)
	if err != nil {
		log.Errorf("failed to read due jobs: %v", err)
		return
	}

	for _, job := range *jobs {
		if err := s.runJob(&job); err != nil {
			s.retryOrDrop(&job, err)
			continue
		}
		if err := s.DB.DeleteJob(job.Id); err != nil {
			log.Errorf("failed to delete finished job %s: %v", job.Id, err)
		}
	}
}

func (s *Service) runJob(job *domain.Job) error {
	switch job.Kind {
	case domain.JobDeliver:
		return s.runDeliverJob(job)
	case domain.JobRefreshActor:
		return s.runRefreshJob(job)
	default:
		log.Warnf("dropping job %s of unknown kind %s", job.Id, job.Kind)
		return nil
	}
}

// runDeliverJob sends one activity to every inbox in the batch. A single
// unreachable inbox fails the job so the batch is retried, but inboxes
// that already took the activity just see a duplicate they deduplicate on
// the activity id.
func (s *Service) runDeliverJob(job *domain.Job) error {
	var payload domain.DeliverPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("bad deliver payload: %w", err)
	}

	actorId, err := uuid.Parse(payload.ActorId)
	if err != nil {
		return fmt.Errorf("bad actor id in deliver payload: %w", err)
	}
	err, author := s.DB.ReadActorById(actorId)
	if err != nil {
		return fmt.Errorf("delivery author missing: %w", err)
	}
	signer, err := s.LocalSigner(author)
	if err != nil {
		return err
	}

	var failed int
	for _, inbox := range payload.Inboxes {
		if err := s.SendActivity(inbox, signer, []byte(payload.Activity)); err != nil {
			log.Warnf("delivery to %s failed: %v", inbox, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deliveries failed", failed, len(payload.Inboxes))
	}
	return nil
}

func (s *Service) runRefreshJob(job *domain.Job) error {
	var payload domain.RefreshActorPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("bad refresh payload: %w", err)
	}
	return s.RefreshRemoteActor(payload.ActorUrl)
}

// retryOrDrop reschedules a failed job with exponential backoff, dropping
// it once the attempt cap is reached.
func (s *Service) retryOrDrop(job *domain.Job, cause error) {
	attempts := job.Attempts + 1
	if attempts >= maxJobAttempts {
		log.Errorf("job %s failed permanently after %d attempts: %v", job.Id, attempts, cause)
		if err := s.DB.DeleteJob(job.Id); err != nil {
			log.Errorf("failed to drop job %s: %v", job.Id, err)
		}
		return
	}

	backoff := time.Duration(1<<uint(attempts)) * time.Second
	log.Warnf("job %s failed (attempt %d), retrying in %s: %v", job.Id, attempts, backoff, cause)
	if err := s.DB.UpdateJobAttempt(job.Id, attempts, time.Now().UTC().Add(backoff)); err != nil {
		log.Errorf("failed to reschedule job %s: %v", job.Id, err)
	}
}
