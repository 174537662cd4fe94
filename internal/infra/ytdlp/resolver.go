// Package ytdlp resolves queries and materializes audio streams through the
// yt-dlp command line tool.
package ytdlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/ataka/medley/internal/domain/track"
	"github.com/ataka/medley/internal/infra/config"
)

// Errors
var (
	ErrNoResults = errors.New("no playable results")
)

// audioFormat prefers containers that need no re-mux before decoding.
const audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

// Options holds the free-form extractor settings from the config file.
type Options struct {
	Proxy            string `mapstructure:"proxy"`
	CookiesFile      string `mapstructure:"cookies_file"`
	ExtractorArgs    string `mapstructure:"extractor_args"`
	SocketTimeoutSec int    `mapstructure:"socket_timeout_sec"`
}

// Resolver turns user queries into tracks and tracks into stream URLs.
type Resolver struct {
	path        string
	searchCount int
	opts        Options
}

// New creates a resolver from configuration.
func New(cfg config.ResolverConfig) (*Resolver, error) {
	var opts Options
	if cfg.Settings != nil {
		if err := mapstructure.Decode(cfg.Settings, &opts); err != nil {
			return nil, errors.Wrap(err, "invalid resolver settings")
		}
	}
	return &Resolver{
		path:        cfg.YtdlpPath,
		searchCount: cfg.SearchCount,
		opts:        opts,
	}, nil
}

func (r *Resolver) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if r.path != "" {
		cmd.SetExecutable(r.path)
	}
	if r.opts.Proxy != "" {
		cmd.Proxy(r.opts.Proxy)
	}
	if r.opts.CookiesFile != "" {
		cmd.Cookies(r.opts.CookiesFile)
	}
	if r.opts.ExtractorArgs != "" {
		cmd.ExtractorArgs(r.opts.ExtractorArgs)
	}
	if r.opts.SocketTimeoutSec > 0 {
		cmd.SocketTimeout(float64(r.opts.SocketTimeoutSec))
	}
	return cmd
}

// Resolve expands a query into zero or more tracks. Direct URLs resolve as
// themselves (playlists expand to every playable entry); anything else goes
// through YouTube search. Returns ErrNoResults when nothing playable comes
// back.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]track.Track, error) {
	target := buildTarget(query, r.searchCount)

	res, err := r.newCommand().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(duration)s").
		Run(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp resolve failed for %q", query)
	}

	tracks := parseFlatLines(res.Stdout)
	if len(tracks) == 0 {
		return nil, errors.Wrapf(ErrNoResults, "query %q", query)
	}
	zlog.Debug().Msgf("ytdlp: resolved %d track(s): query=%q", len(tracks), query)
	return tracks, nil
}

// Materialize extracts a fresh stream URL for the track. Called by the
// scheduler immediately before playback.
func (r *Resolver) Materialize(ctx context.Context, t track.Track) (*track.Source, error) {
	res, err := r.newCommand().
		Format(audioFormat).
		Print("%(url)s\t%(title)s\t%(duration)s").
		SkipDownload().
		Run(ctx, t.WebpageURL)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp extraction failed for %q", t.WebpageURL)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		// Flat resolution may have left title or duration unknown.
		if title := cleanField(fields[1]); title != "" {
			t.Title = title
		}
		if d := parseSeconds(fields[2]); d > 0 {
			t.Duration = d
		}
		return &track.Source{Track: t, StreamURL: fields[0]}, nil
	}
	return nil, errors.Wrapf(ErrNoResults, "url %q", t.WebpageURL)
}

// buildTarget maps a raw query to a yt-dlp argument: URLs pass through,
// free text becomes a ytsearch expression.
func buildTarget(query string, searchCount int) string {
	if isURL(query) {
		return query
	}
	if searchCount < 1 {
		searchCount = 1
	}
	return fmt.Sprintf("ytsearch%d:%s", searchCount, query)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// parseFlatLines parses tab-separated print output into tracks, dropping
// unplayable entries (deleted or private playlist members print "NA" or an
// empty title).
func parseFlatLines(stdout string) []track.Track {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	tracks := make([]track.Track, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		url := fields[0]
		title := cleanField(fields[1])
		if url == "" || !isURL(url) || title == "" {
			continue
		}
		tracks = append(tracks, track.Track{
			Title:      title,
			WebpageURL: url,
			Duration:   parseSeconds(fields[2]),
		})
	}
	return tracks
}

// cleanField normalizes a yt-dlp print field: "NA" means unavailable.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

// parseSeconds parses a duration field printed in seconds. Live streams and
// flat playlist entries print "NA", which maps to zero (unknown).
func parseSeconds(s string) time.Duration {
	s = cleanField(s)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s + "s")
	if err != nil {
		return 0
	}
	if d < 0 {
		return 0
	}
	return d
}
