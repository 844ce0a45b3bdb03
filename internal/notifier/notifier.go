// Package notifier delivers alert digests and warn-level log lines to a
// Telegram channel: queue + worker, token-bucket rate limit, retry, and
// a storage-backed dedup window so repeated alerts don't spam the chat.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"chatsync/internal/config"
	"chatsync/internal/eventbus"
	"chatsync/internal/storage"
	logx "chatsync/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Sender delivers one message. Implemented by the Telegram bot; faked in
// tests.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type telegramSender struct {
	bot  *tele.Bot
	chat tele.ChatID
}

// NewTelegramSender builds the production sender. Construction talks to
// the Bot API (getMe), so it runs at startup where a bad token fails fast.
func NewTelegramSender(token string, chatID int64) (Sender, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramSender{bot: bot, chat: tele.ChatID(chatID)}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	_, err := t.bot.Send(t.chat, text)
	return err
}

type Config struct {
	Enabled     bool
	RatePerSec  int
	QueueSize   int
	RetryMax    int
	DedupWindow time.Duration
}

// FromConfig resolves the raw YAML fields. An unset dedup_window gets
// the operational default; an explicit "0s" disables deduplication.
func FromConfig(cfg config.NotifierConfig) (Config, error) {
	out := Config{
		Enabled:     cfg.Enabled,
		RatePerSec:  cfg.RatePerSec,
		QueueSize:   cfg.QueueSize,
		RetryMax:    2,
		DedupWindow: config.DefaultDedupWindow,
	}
	if cfg.DedupWindow != "" {
		d, err := config.ParseDurationField("notifier.dedup_window", cfg.DedupWindow)
		if err != nil {
			return out, err
		}
		out.DedupWindow = d
	}
	return out, nil
}

type job struct {
	text     string
	dedupKey string
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	store   *storage.Store
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	accepting bool
	queue     chan job
	unsub     func()

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, store *storage.Store, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	queue := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.workerLoop(runCtx, queue)
	}()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(16)
		s.mu.Lock()
		s.unsub = unsub
		s.mu.Unlock()
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if e.Type != eventbus.TypeAlertDigest {
						continue
					}
					if text, ok := e.Data.(string); ok && text != "" {
						if err := s.Send(runCtx, "digest", text); err != nil {
							s.log.Warn("digest notify failed", logx.Err(err))
						}
					}
				}
			}
		}()
	}
	s.log.Info("notifier started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop blocks new sends and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	unsub := s.unsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.unsub = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("notifier stopped")
}

// Send enqueues text for delivery. An empty dedupKey derives one from
// the text; within the dedup window repeats are silently suppressed.
func (s *Service) Send(ctx context.Context, dedupKey, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if dedupKey == "" {
		dedupKey = hashText(text)
	}
	if window > 0 && s.store != nil {
		allowed, err := s.dedupAllow(ctx, dedupKey, window)
		if err != nil {
			s.log.Warn("notify dedup check failed", logx.Err(err))
		} else if !allowed {
			s.log.Debug("notification deduped", logx.String("key", dedupKey))
			return nil
		}
	}

	select {
	case q <- job{text: text, dedupKey: dedupKey}:
		return nil
	default:
		s.log.Warn("notification dropped: queue full", logx.String("key", dedupKey))
		return ErrQueueFull
	}
}

// Alert implements logx.AlertSink: warn+ log lines go out as messages,
// deduped per line content.
func (s *Service) Alert(level, line string) {
	_ = s.Send(context.Background(), "", "["+level+"] "+line)
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration) (bool, error) {
	until, found, err := s.store.GetDedup(ctx, key)
	if err != nil {
		return false, err
	}
	now := time.Now()
	if found && now.Before(until) {
		return false, nil
	}
	if err := s.store.PutDedup(ctx, key, now.Add(window)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) workerLoop(ctx context.Context, queue chan job) {
	for j := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.deliver(ctx, j)
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	if s.sender == nil {
		return
	}
	maxAttempts := 1 + s.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.Send(callCtx, j.text)
		cancel()
		if err == nil {
			s.log.Debug("notification sent", logx.String("key", j.dedupKey))
			return
		}
		lastErr = err
		if attempt >= maxAttempts {
			break
		}
		delay := 500 * time.Millisecond << (attempt - 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	s.log.Error("notification delivery failed", logx.String("key", j.dedupKey), logx.Err(lastErr))
}

func hashText(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}
