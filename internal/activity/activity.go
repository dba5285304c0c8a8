// Package activity turns a raw Plex session into the activity shown on
// Discord. Selection and normalization are pure functions of their inputs;
// enrichment merges a metadata lookup into the normalized value.
package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/plexcord/internal/metadata"
	"tools.zach/dev/plexcord/internal/plex"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// MediaKind classifies what is being played.
type MediaKind int

const (
	Movie MediaKind = iota
	Show
	Music
	Audiobook
)

func (k MediaKind) String() string {
	switch k {
	case Show:
		return "show"
	case Music:
		return "music"
	case Audiobook:
		return "audiobook"
	default:
		return "movie"
	}
}

// LookupKind returns the metadata endpoint for k.
func (k MediaKind) LookupKind() metadata.Kind {
	switch k {
	case Show:
		return metadata.KindTV
	case Music:
		return metadata.KindMusic
	case Audiobook:
		return metadata.KindBook
	default:
		return metadata.KindMovie
	}
}

// PlaybackWindow is the absolute start and end of the item being played.
type PlaybackWindow struct {
	Start time.Time
	End   time.Time
}

// Activity is the normalized view of one session.
type Activity struct {
	Details string
	State   string
	Kind    MediaKind
	Paused  bool
	// Window is nil while paused or when the session lacks timing fields.
	Window      *PlaybackWindow
	LookupQuery string
	// Artist is set for music and audiobooks.
	Artist string
	// LargeText is the album for tracks, else the artist. Empty for video.
	LargeText string
}

// Options carries the user's library preferences.
type Options struct {
	// AudiobookLibraries are library names or doublestar patterns whose
	// tracks are treated as audiobooks.
	AudiobookLibraries []string
	// IgnoredLibraries are doublestar patterns for libraries that must never
	// be broadcast.
	IgnoredLibraries []string
}

const unknownArtist = "Unknown Artist"

// ///////////////////////////////////////////////
// Selection
// ///////////////////////////////////////////////

// SelectCurrent returns the first session whose users include userFilter,
// ignoring case, or nil when the user is idle.
func SelectCurrent(sessions []plex.Session, userFilter string) *plex.Session {
	if userFilter == "" {
		return nil
	}
	for i := range sessions {
		if sessions[i].HasUser(userFilter) {
			return &sessions[i]
		}
	}
	return nil
}

// Hidden reports whether s plays from an ignored library.
func Hidden(s *plex.Session, opts Options) bool {
	return matchesAny(opts.IgnoredLibraries, s.LibrarySectionTitle)
}

// ///////////////////////////////////////////////
// Normalization
// ///////////////////////////////////////////////

// Normalize maps s to an Activity as of now. Unrecognized media types fall
// back to the movie presentation.
func Normalize(s *plex.Session, opts Options, now time.Time) Activity {
	paused := s.Paused()
	a := Activity{
		Details:     s.Title,
		State:       "Playing",
		Kind:        Movie,
		Paused:      paused,
		LookupQuery: s.Title,
	}
	if paused {
		a.State = "Paused"
	}

	switch s.Type {
	case plex.TypeEpisode:
		a.Kind = Show
		a.Details = s.GrandparentTitle
		a.State = fmt.Sprintf("S%02dE%02d - %s", deref(s.ParentIndex), deref(s.Index), s.Title) + pausedSuffix(paused)
		a.LookupQuery = s.GrandparentTitle

	case plex.TypeTrack:
		artist := firstNonEmpty(s.OriginalTitle, s.GrandparentTitle, unknownArtist)
		a.Artist = artist
		a.State = "by " + artist + pausedSuffix(paused)
		a.LargeText = firstNonEmpty(s.ParentTitle, artist)
		if isAudiobookLibrary(s.LibrarySectionTitle, opts.AudiobookLibraries) {
			a.Kind = Audiobook
			a.LookupQuery = s.Title + " " + artist
		} else {
			a.Kind = Music
			a.LookupQuery = artist + " " + s.Title
		}
	}

	if !paused && s.ViewOffset != nil && s.Duration != nil {
		start := now.Add(-time.Duration(*s.ViewOffset) * time.Millisecond)
		a.Window = &PlaybackWindow{
			Start: start,
			End:   start.Add(time.Duration(*s.Duration) * time.Millisecond),
		}
	}
	return a
}

func pausedSuffix(paused bool) string {
	if paused {
		return " (Paused)"
	}
	return ""
}

func isAudiobookLibrary(section string, libraries []string) bool {
	if strings.Contains(strings.ToLower(section), "book") {
		return true
	}
	return matchesAny(libraries, section)
}

// matchesAny reports whether name equals or matches one of patterns.
func matchesAny(patterns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
