package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind values reported by the marketplace. Anything that is not a creation is
// announced as a sale.
const (
	KindCreation = "creation"
	KindSale     = "sale"
	KindRoyalty  = "royalty"
)

// Event is one marketplace occurrence as returned by the activity feed.
type Event struct {
	ID        string   `json:"id"`   // stable unique id, used for de-dup
	Kind      string   `json:"type"` // creation | sale | ... (case-insensitive)
	Amount    *Sats    `json:"amount"`
	CreatedAt string   `json:"created_at"`
	Artwork   *Artwork `json:"artwork"`
}

type Artwork struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Filename    string  `json:"filename"`
	Asset       string  `json:"asset"`
	AskingAsset string  `json:"asking_asset"`
	Edition     int     `json:"edition"`
	Editions    int     `json:"editions"`
	CreatedAt   string  `json:"created_at"`
	Artist      *Artist `json:"artist"`
}

type Artist struct {
	Username string `json:"username"`
}

// IsCreation reports whether the event announces a newly published artwork.
func (e Event) IsCreation() bool { return strings.EqualFold(e.Kind, KindCreation) }

// ArtistName returns the artist's username, or "" if the artwork has no artist.
func (e Event) ArtistName() string {
	if e.Artwork == nil || e.Artwork.Artist == nil {
		return ""
	}
	return e.Artwork.Artist.Username
}

// Sats is an amount in satoshis. bigint columns may be serialized either as
// JSON numbers or as strings, so both are accepted.
type Sats int64

func (s *Sats) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(str))
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// some APIs hand back "250000000.0"
		f, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return fmt.Errorf("amount %q: %w", string(b), err)
		}
		// 2^63 is exactly representable; anything at or beyond it would wrap.
		if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
			return fmt.Errorf("amount %q: out of range", string(b))
		}
		v = int64(f)
	}
	*s = Sats(v)
	return nil
}

func (s Sats) Int64() int64 { return int64(s) }
