package telegram

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"hivebot/internal/group"
	"hivebot/internal/transport"
	logx "hivebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outbound sends across all chats. Telegram throttles
	// around 30 msg/s globally; stay well under it.
	RatePerSec int
}

// Adapter connects the bus to Telegram via long polling.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	handlerMu sync.RWMutex
	handler   transport.Handler

	// chats remembers every chat seen in updates, keyed by JID.
	chatsMu sync.Mutex
	chats   map[string]group.Info
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		chats:   make(map[string]group.Info),
	}, nil
}

func (a *Adapter) OnInbound(h transport.Handler) {
	a.handlerMu.Lock()
	a.handler = h
	a.handlerMu.Unlock()
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		jid := transport.FormatTelegramJID(m.Chat.ID)
		a.rememberChat(jid, chatName(m.Chat))

		a.handlerMu.RLock()
		h := a.handler
		a.handlerMu.RUnlock()
		if h == nil {
			return nil
		}
		sender := ""
		if m.Sender != nil {
			sender = m.Sender.Username
		}
		h(rctx, transport.Inbound{
			ChatJID:  jid,
			ChatName: chatName(m.Chat),
			Sender:   sender,
			Text:     m.Text,
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("telegram polling started")
		a.bot.Start() // blocks until Stop()
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Keep shutdown snappy even if the long-poll is mid-flight.
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
		a.log.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, jid, text string) error {
	chatID, err := transport.ParseTelegramJID(jid)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.Send(&tele.Chat{ID: chatID}, text)
	return err
}

func (a *Adapter) Chats(_ context.Context) ([]group.Info, error) {
	a.chatsMu.Lock()
	out := make([]group.Info, 0, len(a.chats))
	for _, info := range a.chats {
		out = append(out, info)
	}
	a.chatsMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out, nil
}

func (a *Adapter) rememberChat(jid, name string) {
	a.chatsMu.Lock()
	a.chats[jid] = group.Info{JID: jid, Name: name}
	a.chatsMu.Unlock()
}

func chatName(c *tele.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	return c.Username
}
