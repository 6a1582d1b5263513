package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-chat-sync/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	svc, err := core.NewSyncService(ctx, cfg, db)
	if err != nil {
		log.Fatalf("failed to initialise chat sync: %v", err)
	}

	queue := core.NewRedisQueue(redisClient)
	processor := core.NewSyncProcessor(svc)
	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	log.Printf("worker started. id=%s queue=%s chat=%s state=%s", workerID, core.PendingQueueKey, svc.Chat.BaseURL(), svc.Chat.State())

	visibility := core.DefaultVisibilityTimeout
	reclaimInterval := 15 * time.Second

	state := core.NewHeartbeatState(workerID, hostname, svc.Chat.State().String())
	go state.Start(ctx, redisClient)

	// requeue expired in-flight jobs periodically
	go func() {
		ticker := time.NewTicker(reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if jobs, err := queue.RequeueExpired(ctx, time.Now()); err != nil {
					log.Printf("[reclaimer] requeue expired error: %v", err)
				} else if len(jobs) > 0 {
					log.Printf("[reclaimer] requeued %d expired jobs", len(jobs))
				}
			}
		}
	}()

	// Jobs run one at a time; a failed sync is logged and not retried.
	for {
		state.Idle()
		job, err := queue.Reserve(ctx, visibility)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
					continue
				}
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("[worker] reserve error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		log.Printf("[worker] received job %s", job)
		state.JobStarted(job)

		report, procErr := processor.Process(ctx, job)
		switch {
		case procErr != nil:
			log.Printf("[worker] job %s failed: %v", job, procErr)
		case !report.OK():
			log.Printf("[worker] job %s run=%s finished with %d sync errors", job, report.RunID, len(report.Errors))
		}

		if err := queue.Ack(ctx, job); err != nil {
			log.Printf("[worker] ack failed for job %s: %v", job, err)
		}
		state.JobFinished(report, procErr)
	}
}
