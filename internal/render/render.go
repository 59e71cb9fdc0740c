package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rizzling/toshiwatcher/internal/model"
)

const satsPerCoin = 100_000_000

// Announcement is the rendered text of one event plus its artwork link.
type Announcement struct {
	Text     string
	MediaURL string
}

// Body is the note content: text, a blank line, then the media URL.
func (a Announcement) Body() string { return a.Text + "\n\n" + a.MediaURL }

// RenderError reports an event that lacks a field the templates need.
type RenderError struct {
	EventID string
	Field   string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render event %s: missing %s", e.EventID, e.Field)
}

type Renderer struct {
	MediaBaseURL string // prepended to artwork.filename verbatim
	LinkBase     string // prepended to artwork.slug, e.g. raretoshi.com/a/
}

func (r Renderer) Render(ev model.Event) (Announcement, error) {
	if err := check(ev); err != nil {
		return Announcement{}, err
	}
	aw := ev.Artwork
	link := r.LinkBase + aw.Slug

	var text string
	if ev.IsCreation() {
		text = fmt.Sprintf("%s has just published the artwork \"%s\" on %s.", ev.ArtistName(), aw.Title, link)
	} else {
		amount := ev.Amount.Int64()
		text = fmt.Sprintf("The artwork \"%s\" by %s was just sold for %d Satoshis (%sL-BTC) on %s.",
			aw.Title, ev.ArtistName(), amount, SaleFraction(amount), link)
	}
	return Announcement{Text: text, MediaURL: r.MediaBaseURL + aw.Filename}, nil
}

func check(ev model.Event) error {
	missing := func(f string) error { return &RenderError{EventID: ev.ID, Field: f} }
	switch {
	case ev.Artwork == nil:
		return missing("artwork")
	case ev.ArtistName() == "":
		return missing("artwork.artist.username")
	case ev.Artwork.Title == "":
		return missing("artwork.title")
	case ev.Artwork.Slug == "":
		return missing("artwork.slug")
	case ev.Artwork.Filename == "":
		return missing("artwork.filename")
	case !ev.IsCreation() && ev.Amount == nil:
		return missing("amount")
	}
	return nil
}

// SaleFraction divides sats by 1e8 and prints the result the way a
// JavaScript number prints: shortest round-trip digits, exponent form below
// 1e-6 and from 1e21.
func SaleFraction(sats int64) string {
	f := float64(sats) / satsPerCoin
	abs := math.Abs(f)
	if f == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + exp
}
