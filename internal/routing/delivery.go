package routing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/resolver"
)

// DeliveryOptions shapes how replies are paced on the wire.
type DeliveryOptions struct {
	// TypingPerChar is the simulated typing time per character.
	// Default: 40ms.
	TypingPerChar time.Duration
	// TypingMax caps the typing delay. Default: 5s.
	TypingMax time.Duration
	// SplitThreshold is the length above which a text reply is sent as
	// two halves. Default: 2000 characters.
	SplitThreshold int
	// SplitPauseMin and SplitPauseMax bound the pause between halves.
	// Default: 1s to 1.5s.
	SplitPauseMin time.Duration
	SplitPauseMax time.Duration
}

// DeliveryFromConfig converts the YAML delivery section.
func DeliveryFromConfig(c config.DeliveryConfig) DeliveryOptions {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return DeliveryOptions{
		TypingPerChar:  ms(c.TypingMsPerChar),
		TypingMax:      ms(c.TypingMaxMs),
		SplitThreshold: c.SplitThreshold,
		SplitPauseMin:  ms(c.SplitPauseMinMs),
		SplitPauseMax:  ms(c.SplitPauseMaxMs),
	}
}

func (o DeliveryOptions) withDefaults() DeliveryOptions {
	if o.TypingPerChar <= 0 {
		o.TypingPerChar = 40 * time.Millisecond
	}
	if o.TypingMax <= 0 {
		o.TypingMax = 5 * time.Second
	}
	if o.SplitThreshold <= 0 {
		o.SplitThreshold = 2000
	}
	if o.SplitPauseMin <= 0 {
		o.SplitPauseMin = time.Second
	}
	if o.SplitPauseMax < o.SplitPauseMin {
		o.SplitPauseMax = o.SplitPauseMin + 500*time.Millisecond
	}
	return o
}

// typingDelay is how long the composing indicator shows before text of
// the given length goes out.
func (o DeliveryOptions) typingDelay(text string) time.Duration {
	return min(time.Duration(utf8.RuneCountInString(text))*o.TypingPerChar, o.TypingMax)
}

func (o DeliveryOptions) splitPause() time.Duration {
	span := o.SplitPauseMax - o.SplitPauseMin
	if span <= 0 {
		return o.SplitPauseMin
	}
	return o.SplitPauseMin + rand.N(span)
}

// units turns a reply into the messages that go on the wire. A media
// reply travels with its caption as one unit and is never split.
func (o DeliveryOptions) units(to string, r resolver.Reply) []domain.OutboundMessage {
	if r.Media != nil {
		return []domain.OutboundMessage{{To: to, Body: r.Text, Media: r.Media}}
	}
	if strings.TrimSpace(r.Text) == "" {
		return nil
	}
	if utf8.RuneCountInString(r.Text) <= o.SplitThreshold {
		return []domain.OutboundMessage{{To: to, Body: r.Text}}
	}
	first, second := splitHalves(r.Text)
	return []domain.OutboundMessage{{To: to, Body: first}, {To: to, Body: second}}
}

// splitHalves cuts s near its middle, preferring a paragraph break, then
// a line break, then a sentence end, then a space.
func splitHalves(s string) (string, string) {
	mid := len(s) / 2
	lo, hi := mid-len(s)/4, mid+len(s)/4
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if pos := nearest(s, sep, mid, lo, hi); pos > 0 {
			return strings.TrimSpace(s[:pos]), strings.TrimSpace(s[pos:])
		}
	}
	for mid < len(s) && !utf8.RuneStart(s[mid]) {
		mid++
	}
	return s[:mid], s[mid:]
}

// nearest returns the byte position just past the occurrence of sep in
// s[lo:hi] closest to mid, or -1.
func nearest(s, sep string, mid, lo, hi int) int {
	best, bestDist := -1, len(s)
	for i := lo; i < hi; {
		j := strings.Index(s[i:hi], sep)
		if j < 0 {
			break
		}
		pos := i + j + len(sep)
		if d := abs(pos - mid); d < bestDist {
			best, bestDist = pos, d
		}
		i += j + 1
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// deliver sends replies in order with typing simulation. Presence
// failures are logged; a send failure stops delivery.
func (r *Router) deliver(ctx context.Context, sessionID, to string, replies []resolver.Reply) error {
	d := r.opts.Delivery
	for _, reply := range replies {
		units := d.units(to, reply)
		for i, msg := range units {
			if i > 0 {
				if err := r.sleep(ctx, d.splitPause()); err != nil {
					return err
				}
			}
			if err := r.typeAndSend(ctx, sessionID, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Router) typeAndSend(ctx context.Context, sessionID string, msg domain.OutboundMessage) error {
	log := r.log.With("session", sessionID)
	if err := r.opts.Sessions.SendPresence(ctx, sessionID, msg.To, domain.PresenceComposing); err != nil {
		log.Debug().Err(err).Msg("composing presence failed")
	}
	if err := r.sleep(ctx, r.opts.Delivery.typingDelay(msg.Body)); err != nil {
		return err
	}
	if err := r.opts.Sessions.SendPresence(ctx, sessionID, msg.To, domain.PresencePaused); err != nil {
		log.Debug().Err(err).Msg("paused presence failed")
	}
	if err := r.opts.Sessions.Send(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return nil
}
