// internal/adapter/platform/youtube.go

package platform

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/pkg/errs"
)

const feedBase = "https://www.youtube.com/feeds/videos.xml"

// YouTubeFeedAdapter reads a channel's public video feed. The feed
// carries per-video view and rating counts, which is enough for
// observation snapshots without any API credentials.
//
// Supported source references:
//
//	channel:<channelID>
//	playlist:<playlistID>
//	https://www.youtube.com/channel/<channelID>
type YouTubeFeedAdapter struct {
	client *http.Client
}

// NewYouTubeFeedAdapter creates a feed adapter. client may be nil.
func NewYouTubeFeedAdapter(client *http.Client) *YouTubeFeedAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &YouTubeFeedAdapter{client: client}
}

// Platform names the platform this adapter serves.
func (a *YouTubeFeedAdapter) Platform() snapshot.Platform { return snapshot.PlatformYouTube }

// FetchRecent pulls the channel feed and maps its entries onto raw
// records, newest first, capped at maxItems.
func (a *YouTubeFeedAdapter) FetchRecent(ctx context.Context, sourceRef string, maxItems int) ([]snapshot.RawRecord, error) {
	feedURL, err := a.feedURL(sourceRef)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed for %s: %w", sourceRef, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("feed for %s: %w", sourceRef, errs.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("feed for %s returned %d: %w", sourceRef, resp.StatusCode, errs.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading feed for %s: %w", sourceRef, err)
	}

	var feed videoFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing feed for %s: %w", sourceRef, err)
	}

	records := make([]snapshot.RawRecord, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if maxItems > 0 && len(records) >= maxItems {
			break
		}
		rec := snapshot.RawRecord{
			ID:       entry.VideoID,
			URL:      entry.Link.Href,
			Title:    entry.Title,
			Uploader: entry.Author.Name,
			Views:    entry.Group.Community.Statistics.Views,
			Likes:    entry.Group.Community.StarRating.Count,
			Hashtags: extractHashtags(entry.Title + " " + entry.Group.Description),
		}
		if rec.URL == "" && entry.VideoID != "" {
			rec.URL = "https://www.youtube.com/watch?v=" + entry.VideoID
		}
		if published, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			rec.PublishedAt = published
		}
		records = append(records, rec)
	}
	return records, nil
}

// feedURL maps a source reference onto the public feed endpoint.
func (a *YouTubeFeedAdapter) feedURL(sourceRef string) (string, error) {
	ref := strings.TrimSpace(sourceRef)
	switch {
	case strings.HasPrefix(ref, "channel:"):
		return feedBase + "?channel_id=" + strings.TrimPrefix(ref, "channel:"), nil
	case strings.HasPrefix(ref, "playlist:"):
		return feedBase + "?playlist_id=" + strings.TrimPrefix(ref, "playlist:"), nil
	case strings.Contains(ref, "youtube.com/channel/"):
		_, id, _ := strings.Cut(ref, "youtube.com/channel/")
		id = strings.Trim(strings.SplitN(id, "?", 2)[0], "/")
		return feedBase + "?channel_id=" + id, nil
	}
	return "", fmt.Errorf("unsupported source reference %q: %w", sourceRef, errs.ErrSourceUnavailable)
}

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

func extractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// videoFeed models the slice of the Atom feed we read.
type videoFeed struct {
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	VideoID   string `xml:"videoId"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Group struct {
		Description string `xml:"description"`
		Community   struct {
			StarRating struct {
				Count int64 `xml:"count,attr"`
			} `xml:"starRating"`
			Statistics struct {
				Views int64 `xml:"views,attr"`
			} `xml:"statistics"`
		} `xml:"community"`
	} `xml:"group"`
}
