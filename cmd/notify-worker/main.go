package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/slotwise/booking-engine/internal/booking"
	"github.com/slotwise/booking-engine/internal/config"
	redisclient "github.com/slotwise/booking-engine/internal/redis"
)

// notify-worker is the notification sink's consumer side: it drains the
// event stream the booking engine publishes to and addresses the mail each
// event calls for. Actual SMTP delivery is out of scope; the worker logs the
// message it would hand to the mail provider.

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("notify-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running notify worker in env=%s stream=%s", cfg.Env, cfg.NotifyStream)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisTimeout, cfg.RedisPoolSize)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	lastID := "$"
	for {
		if rootCtx.Err() != nil {
			log.Println("shutdown signal received, stopping notify worker")
			return
		}

		streams, err := rdb.XRead(rootCtx, &redis.XReadArgs{
			Streams: []string{cfg.NotifyStream, lastID},
			Count:   32,
			Block:   cfg.WorkerInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("xread error: %v", err)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				handleMessage(msg)
			}
		}
	}
}

func handleMessage(msg redis.XMessage) {
	eventType, _ := msg.Values["type"].(string)
	raw, _ := msg.Values["payload"].(string)

	switch eventType {
	case booking.EventAppointmentCreated:
		var ev booking.CreatedEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("bad %s payload in %s: %v", eventType, msg.ID, err)
			return
		}
		// New booking: the host gets notified.
		log.Printf("mail to=%s subject=%q appointment=%s date=%s time=%s",
			ev.HostEmail, "New appointment request from "+ev.GuestName, ev.AppointmentID, ev.Date, ev.Time)

	case booking.EventAppointmentConfirmed:
		var ev booking.ConfirmedEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("bad %s payload in %s: %v", eventType, msg.ID, err)
			return
		}
		// Confirmation goes to the guest.
		log.Printf("mail to=%s subject=%q appointment=%s date=%s time=%s",
			ev.GuestEmail, "Your appointment with "+ev.HostName+" is confirmed", ev.AppointmentID, ev.Date, ev.Time)

	case booking.EventAppointmentCanceled:
		var ev booking.CanceledEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("bad %s payload in %s: %v", eventType, msg.ID, err)
			return
		}
		// Cancellation notifies the party that did not cancel.
		to := ev.GuestEmail
		if ev.CanceledBy == "guest" {
			to = ev.HostEmail
		}
		log.Printf("mail to=%s subject=%q appointment=%s canceled_by=%s reason=%q",
			to, "Appointment canceled", ev.AppointmentID, ev.CanceledBy, ev.CancelReason)

	default:
		log.Printf("unknown event type %q in %s", eventType, msg.ID)
	}
}
