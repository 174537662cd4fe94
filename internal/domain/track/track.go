// Package track provides the queue item domain entities.
package track

import (
	"fmt"
	"time"
)

// Track represents a resolved media item.
// Contains only information retrieved from the resolver; it carries no
// playable stream handle (see Source).
type Track struct {
	Title      string        // Display title
	WebpageURL string        // Canonical page URL (opaque source reference)
	Duration   time.Duration // Zero when unknown (live streams, flat extraction)
}

// Source is a materialized, ready-to-stream handle for a Track.
// Stream URLs expire, so a Source is produced immediately before playback
// and discarded with the cycle that used it.
type Source struct {
	Track     Track
	StreamURL string // Direct audio stream URL
}

// Requester identifies who asked for a track. It is either resolved to a
// display profile by the front-end, or carries only the raw user id. The
// scheduler never resolves requesters itself.
type Requester struct {
	ID       string // Raw user id, always set
	Name     string // Display name, set only when Resolved
	Resolved bool
}

// KnownRequester returns a requester with a resolved display profile.
func KnownRequester(id, name string) Requester {
	return Requester{ID: id, Name: name, Resolved: true}
}

// UnresolvedRequester returns a requester known only by id.
func UnresolvedRequester(id string) Requester {
	return Requester{ID: id}
}

// Mention renders the requester for chat output. Unresolved requesters fall
// back to a raw mention so the client resolves the name instead.
func (r Requester) Mention() string {
	if r.ID == "" {
		return "unknown"
	}
	return "<@" + r.ID + ">"
}

// DisplayName returns the resolved name, or the id when unresolved.
func (r Requester) DisplayName() string {
	if r.Resolved {
		return r.Name
	}
	if r.ID == "" {
		return "unknown"
	}
	return r.ID
}

// QueuedTrack is a Track waiting in (or popped from) a scheduler queue.
// Immutable once enqueued except for its queue position.
type QueuedTrack struct {
	ID        string // Queue item id (uuid)
	Track     Track
	Requester Requester
	AddedAt   time.Time
}

// FormatDuration renders a duration as mm:ss, or hh:mm:ss above an hour.
// A zero duration is rendered as "--:--" (unknown).
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	total := int(d.Round(time.Second).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
