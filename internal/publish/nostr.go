package publish

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"golang.org/x/time/rate"

	"github.com/rizzling/toshiwatcher/internal/config"
)

type Nostr struct {
	relays         []string
	minAcks        int
	connectTimeout time.Duration
	subscribeEcho  bool
	limiter        *rate.Limiter

	sk string // hex
	pk string // hex, x-only

	now func() nostr.Timestamp
}

// NewNostr derives the public key up front so a bad key fails at startup
// rather than on the first announcement.
func NewNostr(cfg config.RelayConfig, secretKey string) (*Nostr, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("no relays configured")
	}
	sk, err := ParseSecretKey(secretKey)
	if err != nil {
		return nil, &SignError{Err: err}
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, &SignError{Err: err}
	}
	minAcks := cfg.MinAcks
	if minAcks <= 0 {
		minAcks = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Nostr{
		relays:         cfg.URLs,
		minAcks:        minAcks,
		connectTimeout: connectTimeout,
		subscribeEcho:  cfg.SubscribeEcho,
		limiter:        rate.NewLimiter(limit, burst),
		sk:             sk,
		pk:             pk,
		now:            nostr.Now,
	}, nil
}

// ParseSecretKey accepts a 32-byte hex key or its nsec encoding and returns
// the hex form.
func ParseSecretKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("secret key is empty")
	}
	if strings.HasPrefix(s, "nsec1") {
		prefix, v, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		hx, ok := v.(string)
		if prefix != "nsec" || !ok {
			return "", fmt.Errorf("decode nsec: unexpected %s payload", prefix)
		}
		s = hx
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("secret key: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("secret key: want 32 bytes, got %d", len(b))
	}
	return strings.ToLower(s), nil
}

func (n *Nostr) PublicKey() string { return n.pk }

func (n *Nostr) NPub() string {
	npub, err := nip19.EncodePublicKey(n.pk)
	if err != nil {
		return ""
	}
	return npub
}

// Publish signs one text note carrying body and offers it to every relay.
// It succeeds once at least minAcks relays accepted the note.
func (n *Nostr) Publish(ctx context.Context, body string) (*nostr.Event, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, &PublishError{Err: err}
	}

	ev := nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: n.now(),
		Tags:      nostr.Tags{},
		Content:   body,
	}
	if err := ev.Sign(n.sk); err != nil {
		return nil, &SignError{Err: err}
	}

	acks := 0
	var errs []error
	for _, url := range n.relays {
		if err := n.publishTo(ctx, url, ev); err != nil {
			log.Printf("relay %s: %v", url, err)
			errs = append(errs, err)
			continue
		}
		acks++
	}
	if acks >= n.minAcks {
		return &ev, nil
	}
	if len(errs) == 0 {
		return nil, &PublishError{Err: fmt.Errorf("%d/%d relay acks", acks, n.minAcks)}
	}
	return nil, errors.Join(errs...)
}

func (n *Nostr) publishTo(ctx context.Context, url string, ev nostr.Event) error {
	relay := nostr.NewRelay(ctx, url)
	dialCtx, cancel := context.WithTimeout(ctx, n.connectTimeout)
	err := relay.Connect(dialCtx)
	cancel()
	if err != nil {
		return &ConnectError{Relay: url, Err: err}
	}
	defer relay.Close()

	if n.subscribeEcho {
		stop := n.watchEcho(ctx, relay, ev.CreatedAt)
		defer stop()
	}

	if err := relay.Publish(ctx, ev); err != nil {
		return &PublishError{Relay: url, Err: err}
	}
	log.Printf("relay %s: accepted note %s", url, ev.ID)
	return nil
}

// watchEcho logs notes the relay sends back for our key. It never affects
// the publish outcome; the returned func tears the subscription down.
func (n *Nostr) watchEcho(ctx context.Context, relay *nostr.Relay, since nostr.Timestamp) func() {
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds:   []int{nostr.KindTextNote},
		Authors: []string{n.pk},
		Since:   &since,
	}})
	if err != nil {
		log.Printf("relay %s: subscribe: %v", relay.URL, err)
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-sub.Events:
				if !ok {
					return
				}
				log.Printf("relay %s: echo %s %q", relay.URL, e.ID, firstLine(e.Content))
			case <-sub.Context.Done():
				return
			}
		}
	}()
	return func() {
		sub.Unsub()
		<-done
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
