// Package collector supervises one chat session per monitored streamer.
package collector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatzzk/internal/chzzk"
	"github.com/you/chatzzk/internal/config"
)

type Options struct {
	Streamers          []config.Streamer
	Endpoint           string
	RecheckMinInterval time.Duration
}

// Collector starts one independent session per streamer and waits on all of
// them. A streamer whose init fails is skipped; the others keep running.
// Cancelling the context broadcasts shutdown to every session.
type Collector struct {
	opts Options
	api  chzzk.Lookup
	pub  chzzk.Publisher
}

func New(opts Options, api chzzk.Lookup, pub chzzk.Publisher) *Collector {
	return &Collector{opts: opts, api: api, pub: pub}
}

func (c *Collector) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	started := 0

	for _, streamer := range c.opts.Streamers {
		sess := chzzk.NewSession(chzzk.SessionConfig{
			StreamerID:         streamer.ID,
			StreamerName:       streamer.Name,
			Endpoint:           c.opts.Endpoint,
			RecheckMinInterval: c.opts.RecheckMinInterval,
		}, c.api, c.pub)

		if err := sess.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("collector: streamer %s: init failed: %v; skipping", streamer.ID, err)
			continue
		}

		started++
		wg.Add(1)
		go func(id string, sess *chzzk.Session) {
			defer wg.Done()
			if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("collector: streamer %s: session exited: %v", id, err)
			}
		}(streamer.ID, sess)
	}

	if started == 0 {
		return errors.New("collector: no sessions started")
	}
	log.Printf("collector: %d/%d sessions running", started, len(c.opts.Streamers))

	wg.Wait()
	return ctx.Err()
}
