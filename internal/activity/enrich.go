package activity

import (
	"hash/fnv"
	"strconv"

	"tools.zach/dev/plexcord/internal/metadata"
)

// ///////////////////////////////////////////////
// Enrichment
// ///////////////////////////////////////////////

// MaxButtons is the number of buttons Discord renders.
const MaxButtons = 2

// Button is a labelled link shown under the activity.
type Button struct {
	Label string
	URL   string
}

// Enriched is an Activity merged with a metadata lookup.
type Enriched struct {
	Activity
	// ImageRef is the large image: a metadata artwork URL or an asset key.
	ImageRef string
	// DisplayTitle is the large image tooltip.
	DisplayTitle string
	LinkURL      string
	LinkLabel    string
	// Static is the always-present application button. It may be empty.
	Static Button
}

// EnrichOptions holds the defaults used when no metadata was found.
type EnrichOptions struct {
	DefaultImage string
	BookImage    string
	StaticButton Button
}

// Enrich merges res into a. Overrides apply only when res.Found.
func Enrich(a Activity, res metadata.Result, opts EnrichOptions) Enriched {
	e := Enriched{
		Activity:     a,
		ImageRef:     opts.DefaultImage,
		DisplayTitle: a.LargeText,
		Static:       opts.StaticButton,
	}
	if a.Kind == Audiobook && opts.BookImage != "" {
		e.ImageRef = opts.BookImage
	}
	if !res.Found {
		return e
	}

	if res.Image != "" {
		e.ImageRef = res.Image
	}
	if e.DisplayTitle == "" || e.DisplayTitle == a.Artist {
		e.DisplayTitle = firstNonEmpty(res.Title, a.LookupQuery)
	}
	if res.Line1 != "" {
		e.Details = res.Line1
	}
	if res.Line2 != "" && a.Kind != Music {
		e.State = res.Line2
	}
	if res.URL != "" {
		e.LinkURL = res.URL
		e.LinkLabel = linkLabel(a.Kind)
	}
	return e
}

func linkLabel(k MediaKind) string {
	switch k {
	case Music:
		return "Listen on Spotify"
	case Audiobook:
		return "View Book"
	default:
		return "View on TMDB"
	}
}

// Buttons returns the link button followed by the static button, capped at
// MaxButtons.
func (e *Enriched) Buttons() []Button {
	var out []Button
	if e.LinkURL != "" {
		out = append(out, Button{Label: e.LinkLabel, URL: e.LinkURL})
	}
	if e.Static.Label != "" && e.Static.URL != "" {
		out = append(out, e.Static)
	}
	if len(out) > MaxButtons {
		out = out[:MaxButtons]
	}
	return out
}

// ///////////////////////////////////////////////
// Change Detection
// ///////////////////////////////////////////////

// Signature identifies what a published activity says. The zero value means
// idle.
type Signature struct {
	Details string
	State   string
}

// Idle reports whether s is the idle signature.
func (s Signature) Idle() bool {
	return s == Signature{}
}

func (s Signature) String() string {
	if s.Idle() {
		return "Session Ended (Idle)"
	}
	return s.Details + " - " + s.State
}

// Signature returns e's change-detection key.
func (e *Enriched) Signature() Signature {
	return Signature{Details: e.Details, State: e.State}
}

// Fingerprint hashes every field that reaches the broadcaster. The playback
// window is taken at second precision, matching the wire format.
func (e *Enriched) Fingerprint() uint64 {
	h := fnv.New64a()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(e.Details)
	write(e.State)
	write(e.Kind.String())
	write(strconv.FormatBool(e.Paused))
	write(e.ImageRef)
	write(e.DisplayTitle)
	if e.Window != nil {
		write(strconv.FormatInt(e.Window.Start.Unix(), 10))
		write(strconv.FormatInt(e.Window.End.Unix(), 10))
	}
	for _, b := range e.Buttons() {
		write(b.Label)
		write(b.URL)
	}
	return h.Sum64()
}
