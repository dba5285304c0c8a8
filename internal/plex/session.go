package plex

import (
	"strings"
)

// ///////////////////////////////////////////////
// Session Types
// ///////////////////////////////////////////////

// MediaType is the kind of item a session is playing.
type MediaType string

const (
	TypeMovie   MediaType = "movie"
	TypeEpisode MediaType = "episode"
	TypeTrack   MediaType = "track"
)

// Player is one client device attached to a session.
type Player struct {
	// State is "playing", "paused" or "buffering".
	State string
}

// Paused reports whether the player reports a paused state.
func (p Player) Paused() bool {
	return strings.EqualFold(p.State, "paused")
}

// Session is one active playback stream as reported by /status/sessions.
// Every optional wire field decodes to its zero value or nil when absent.
type Session struct {
	// Type is the raw media type; values other than the TypeXxx constants
	// are kept verbatim.
	Type                MediaType
	Title               string
	ParentTitle         string
	GrandparentTitle    string
	OriginalTitle       string
	LibrarySectionTitle string
	// ParentIndex is the season number for episodes.
	ParentIndex *int
	// Index is the episode number for episodes.
	Index *int
	// ViewOffset is the playback position in milliseconds.
	ViewOffset *int64
	// Duration is the item length in milliseconds.
	Duration  *int64
	Players   []Player
	Usernames []string
}

// HasUser reports whether name matches one of the session's usernames,
// ignoring case.
func (s *Session) HasUser(name string) bool {
	for _, u := range s.Usernames {
		if strings.EqualFold(u, name) {
			return true
		}
	}
	return false
}

// Paused reports whether the first player is paused. A session without
// players is treated as playing.
func (s *Session) Paused() bool {
	return len(s.Players) > 0 && s.Players[0].Paused()
}

// ///////////////////////////////////////////////
// Wire Format
// ///////////////////////////////////////////////

type sessionsResponse struct {
	MediaContainer struct {
		Size     int           `json:"size"`
		Metadata []wireSession `json:"Metadata"`
	} `json:"MediaContainer"`
}

type wireSession struct {
	Type                string  `json:"type"`
	Title               string  `json:"title"`
	ParentTitle         string  `json:"parentTitle"`
	GrandparentTitle    string  `json:"grandparentTitle"`
	OriginalTitle       string  `json:"originalTitle"`
	LibrarySectionTitle string  `json:"librarySectionTitle"`
	ParentIndex         *int    `json:"parentIndex"`
	Index               *int    `json:"index"`
	ViewOffset          *int64  `json:"viewOffset"`
	Duration            *int64  `json:"duration"`
	User                *wireID `json:"User"`
	Player              *struct {
		State string `json:"state"`
	} `json:"Player"`
}

type wireID struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (w wireSession) session() Session {
	s := Session{
		Type:                MediaType(w.Type),
		Title:               w.Title,
		ParentTitle:         w.ParentTitle,
		GrandparentTitle:    w.GrandparentTitle,
		OriginalTitle:       w.OriginalTitle,
		LibrarySectionTitle: w.LibrarySectionTitle,
		ParentIndex:         w.ParentIndex,
		Index:               w.Index,
		ViewOffset:          w.ViewOffset,
		Duration:            w.Duration,
	}
	if w.User != nil && w.User.Title != "" {
		s.Usernames = []string{w.User.Title}
	}
	if w.Player != nil {
		s.Players = []Player{{State: w.Player.State}}
	}
	return s
}
