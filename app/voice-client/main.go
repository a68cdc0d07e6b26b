// Command voice-client runs one voice session against the continuity API,
// reading typed user turns from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rant2me/continuity/config"
	"github.com/rant2me/continuity/internal/cache"
	"github.com/rant2me/continuity/internal/client"
	"github.com/rant2me/continuity/internal/coordinator"
	"github.com/rant2me/continuity/internal/logger"
	"github.com/rant2me/continuity/internal/providers/voice"
)

// linePipe forwards stdin lines to whichever provider session is live.
type linePipe struct {
	voice.Provider
	sessions chan voice.Session
}

func (p *linePipe) Start(ctx context.Context, opts voice.StartOptions) (voice.Session, error) {
	s, err := p.Provider.Start(ctx, opts)
	if err == nil {
		p.sessions <- s
	}
	return s, err
}

func main() {
	_ = godotenv.Load()
	log := logger.New()

	apiURL := os.Getenv("CONTINUITY_API_URL")
	token := os.Getenv("CONTINUITY_TOKEN")
	ownerID := os.Getenv("CONTINUITY_OWNER_ID")
	if apiURL == "" || token == "" {
		log.Fatal("CONTINUITY_API_URL and CONTINUITY_TOKEN are required")
	}

	var store cache.Cache = cache.NewMemoryCache()
	if err := config.InitRedis(); err == nil {
		store = cache.NewRedisCache(config.RedisClient)
	} else {
		log.WithError(err).Warn("Redis unavailable, hint kept in memory only")
	}
	hints := cache.NewHintSlot(store, cache.HintKey(ownerID, os.Getenv("DEVICE_ID")), 30*24*time.Hour)

	vc := config.LoadVoiceConfig()
	hume := voice.NewHume(vc.AccessToken, vc.ConfigID)
	if vc.Endpoint != "" {
		hume.Endpoint = vc.Endpoint
	}
	provider := &linePipe{Provider: hume, sessions: make(chan voice.Session, 1)}

	api := client.New(apiURL, token, 10*time.Second)
	coord, err := coordinator.New(coordinator.Config{
		OwnerID:  ownerID,
		Backend:  api,
		Provider: provider,
		Hints:    hints,
		Journal:  api,
		Logger:   log,
		OnNotice: func(n coordinator.Notice) {
			fmt.Fprintln(os.Stderr, "!", n.Message)
		},
	})
	if err != nil {
		log.WithError(err).Fatal("coordinator init error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		var sess voice.Session
		select {
		case sess = <-provider.sessions:
		case <-ctx.Done():
			return
		}
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := sc.Text()
			if line == "/reset" {
				if _, err := coord.Reset(ctx); err == nil {
					fmt.Fprintln(os.Stderr, "conversation reset")
				}
				continue
			}
			if err := sess.SendUserInput(ctx, line); err != nil {
				log.WithError(err).Warn("send failed")
			}
		}
		stop()
	}()

	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("session ended with error")
	}
}
