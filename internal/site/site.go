package site

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind selects which popup policy applies to a short-form site.
type Kind int

const (
	// URLChangeBased sites paginate by changing the URL (YouTube Shorts, Instagram Reels).
	URLChangeBased Kind = iota
	// TikTokLike sites are short-form everywhere; only elapsed time counts.
	TikTokLike
)

// String returns the metric label form of the kind.
func (k Kind) String() string {
	switch k {
	case TikTokLike:
		return "tiktok_like"
	default:
		return "url_change_based"
	}
}

// Location is the host page position as reported by the browser.
type Location struct {
	Hostname string `json:"hostname"`
	Pathname string `json:"pathname"`
	Href     string `json:"href"`
}

// Result is a classifier decision.
type Result struct {
	ShortForm  bool `json:"short_form"`
	TikTokLike bool `json:"tiktok_like"`
}

// Kind returns the site kind for a short-form result.
func (r Result) Kind() Kind {
	if r.TikTokLike {
		return TikTokLike
	}
	return URLChangeBased
}

// Classifier maps a location to a short-form decision.
// Implementations must be cheap enough to run on every poll.
type Classifier interface {
	Classify(loc Location) Result
}

// Builtin is the default hostname and path based classifier.
type Builtin struct{}

// Classify implements Classifier.
func (Builtin) Classify(loc Location) Result {
	host := loc.Hostname

	switch {
	case strings.Contains(host, "tiktok.com"):
		// The whole site is treated as short-form
		return Result{ShortForm: true, TikTokLike: true}

	case strings.Contains(host, "youtube.com"):
		if strings.Contains(loc.Pathname, "/shorts") || strings.Contains(loc.Href, "/shorts") {
			return Result{ShortForm: true}
		}

	case strings.Contains(host, "instagram.com"):
		if strings.Contains(loc.Pathname, "/reels") ||
			strings.Contains(loc.Pathname, "/reel") ||
			strings.Contains(loc.Href, "/reels/") ||
			strings.Contains(loc.Href, "/reel/") {
			return Result{ShortForm: true}
		}
	}

	return Result{}
}

// ParseURL builds a Location from a raw URL. A missing scheme defaults to https.
func ParseURL(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Hostname() == "" {
		return Location{}, fmt.Errorf("URL %q has no host", raw)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return Location{
		Hostname: u.Hostname(),
		Pathname: path,
		Href:     u.String(),
	}, nil
}
