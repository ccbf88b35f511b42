package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/config"
	"github.com/staylight/livechat/internal/db"
	"github.com/staylight/livechat/internal/email"
	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/models"
	"github.com/staylight/livechat/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logging.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logging.Fatal().Err(err).Msg("queue declare")
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		logging.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	smtp := email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}

	logging.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var n chat.Notification
				if err := json.Unmarshal(d.Body, &n); err != nil || n.SessionID == "" {
					logging.Warn().Int("worker", workerID).Err(err).Msg("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleNotification(ctx, gdb, repo, smtp, cfg.SupportInbox, n); err != nil {
					logging.Warn().
						Int("worker", workerID).
						Str("kind", n.Kind).
						Str("session_id", n.SessionID).
						Dur("cost", time.Since(start)).
						Err(err).
						Msg("notification failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					logging.Warn().Int("worker", workerID).Err(err).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logging.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleNotification(ctx context.Context, gdb *gorm.DB, repo *chat.Repo, smtp email.SMTPConfig, supportInbox string, n chat.Notification) error {
	sess, err := repo.GetSession(ctx, n.SessionID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			// session gone or expired, nothing to notify about
			return nil
		}
		return err
	}

	switch n.Kind {
	case chat.NotifySessionAssigned:
		var agent models.Agent
		if err := gdb.WithContext(ctx).Where("agent_id = ?", n.AgentID).First(&agent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		subject := "Chat session assigned to you"
		body := fmt.Sprintf("Hello %s,\n\nSession %s has been assigned to you.\nVisitor: %s\n\nOpen the agent console to respond.\n",
			agent.Name, sess.SessionID, visitorLabel(sess))
		return email.Send(smtp, agent.Email, subject, body)

	case chat.NotifyVisitorWaiting:
		if supportInbox == "" {
			return nil
		}
		subject := "Visitor waiting in chat"
		body := fmt.Sprintf("A visitor is waiting with no agent online.\nSession: %s\nVisitor: %s\n",
			sess.SessionID, visitorLabel(sess))
		return email.Send(smtp, supportInbox, subject, body)

	default:
		logging.Warn().Str("kind", n.Kind).Msg("unknown notification kind")
		return nil
	}
}

func visitorLabel(s *chat.Session) string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	return s.VisitorID
}
