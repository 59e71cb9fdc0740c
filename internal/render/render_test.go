package render

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizzling/toshiwatcher/internal/model"
)

var testRenderer = Renderer{MediaBaseURL: "https://cdn.example/ipfs/", LinkBase: "raretoshi.com/a/"}

func sats(v int64) *model.Sats { s := model.Sats(v); return &s }

func artwork(title, slug, artist string) *model.Artwork {
	return &model.Artwork{Title: title, Slug: slug, Filename: "Qm" + slug, Artist: &model.Artist{Username: artist}}
}

func TestRenderCreation(t *testing.T) {
	ev := model.Event{ID: "1", Kind: "creation", Artwork: artwork("Dawn", "dawn-1", "alice")}
	a, err := testRenderer.Render(ev)
	require.NoError(t, err)
	assert.Equal(t, `alice has just published the artwork "Dawn" on raretoshi.com/a/dawn-1.`, a.Text)
	assert.Equal(t, "https://cdn.example/ipfs/Qmdawn-1", a.MediaURL)
	assert.Equal(t, a.Text+"\n\nhttps://cdn.example/ipfs/Qmdawn-1", a.Body())
}

func TestRenderCreationCaseInsensitive(t *testing.T) {
	ev := model.Event{ID: "1", Kind: "Creation", Amount: sats(5), Artwork: artwork("Dawn", "dawn-1", "alice")}
	a, err := testRenderer.Render(ev)
	require.NoError(t, err)
	assert.Contains(t, a.Text, "has just published")
}

func TestRenderSale(t *testing.T) {
	ev := model.Event{ID: "2", Kind: "sale", Amount: sats(250000000), Artwork: artwork("Dusk", "dusk", "bob")}
	a, err := testRenderer.Render(ev)
	require.NoError(t, err)
	assert.Equal(t, `The artwork "Dusk" by bob was just sold for 250000000 Satoshis (2.5L-BTC) on raretoshi.com/a/dusk.`, a.Text)
}

func TestRenderOtherKindsAreSales(t *testing.T) {
	for _, kind := range []string{"accept", "purchase", "SALE", ""} {
		ev := model.Event{ID: "3", Kind: kind, Amount: sats(1), Artwork: artwork("Dot", "dot", "carol")}
		a, err := testRenderer.Render(ev)
		require.NoError(t, err, kind)
		assert.Equal(t, `The artwork "Dot" by carol was just sold for 1 Satoshis (1e-8L-BTC) on raretoshi.com/a/dot.`, a.Text, kind)
	}
}

func TestRenderKeepsTitleVerbatim(t *testing.T) {
	ev := model.Event{ID: "4", Kind: "creation", Artwork: artwork(`The "Blue" Hour – ñ`, "blue", "dan")}
	a, err := testRenderer.Render(ev)
	require.NoError(t, err)
	assert.Equal(t, `dan has just published the artwork "The "Blue" Hour – ñ" on raretoshi.com/a/blue.`, a.Text)
}

func TestRenderDeterministic(t *testing.T) {
	ev := model.Event{ID: "5", Kind: "sale", Amount: sats(123456789), Artwork: artwork("Same", "same", "eve")}
	a1, err := testRenderer.Render(ev)
	require.NoError(t, err)
	a2, err := testRenderer.Render(ev)
	require.NoError(t, err)
	assert.Equal(t, []byte(a1.Body()), []byte(a2.Body()))
}

func TestRenderMissingFields(t *testing.T) {
	full := func() model.Event {
		return model.Event{ID: "6", Kind: "sale", Amount: sats(1), Artwork: artwork("T", "s", "a")}
	}
	cases := map[string]func(*model.Event){
		"artwork":                 func(e *model.Event) { e.Artwork = nil },
		"artwork.artist.username": func(e *model.Event) { e.Artwork.Artist = nil },
		"artwork.title":           func(e *model.Event) { e.Artwork.Title = "" },
		"artwork.slug":            func(e *model.Event) { e.Artwork.Slug = "" },
		"artwork.filename":        func(e *model.Event) { e.Artwork.Filename = "" },
		"amount":                  func(e *model.Event) { e.Amount = nil },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			ev := full()
			mutate(&ev)
			_, err := testRenderer.Render(ev)
			var re *RenderError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, field, re.Field)
			assert.Equal(t, "6", re.EventID)
		})
	}
}

func TestRenderTreatsEmptyStringsAsMissing(t *testing.T) {
	cases := map[string]string{
		`{"id":"7","type":"creation","artwork":{"slug":"s","title":"","filename":"Qm","artist":{"username":"a"}}}`: "artwork.title",
		`{"id":"7","type":"creation","artwork":{"slug":"","title":"T","filename":"Qm","artist":{"username":"a"}}}`: "artwork.slug",
		`{"id":"7","type":"creation","artwork":{"slug":"s","title":"T","filename":"Qm","artist":{"username":""}}}`: "artwork.artist.username",
	}
	for in, field := range cases {
		var ev model.Event
		require.NoError(t, json.Unmarshal([]byte(in), &ev))
		_, err := testRenderer.Render(ev)
		var re *RenderError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, field, re.Field)
	}
}

func TestSaleFraction(t *testing.T) {
	cases := map[int64]string{
		250000000:  "2.5",
		100000000:  "1",
		0:          "0",
		1:          "1e-8",
		50:         "5e-7",
		100:        "0.000001",
		123456789:  "1.23456789",
		1500000:    "0.015",
		-250000000: "-2.5",
	}
	for in, want := range cases {
		assert.Equal(t, want, SaleFraction(in), "sats=%d", in)
	}
}
