package retrieval

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
)

// ErrBotChallenge means the search engine served a bot-detection page
// instead of results. Hard failure for that lookup.
var ErrBotChallenge = errors.New("search returned a bot challenge page")

const fetchTimeout = 10 * time.Second

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
}

// userAgentRotor hands out pool entries round-robin so outbound request
// fingerprints vary.
type userAgentRotor struct {
	mu    sync.Mutex
	index int
}

func (r *userAgentRotor) next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent := userAgents[r.index%len(userAgents)]
	r.index++
	return agent
}

var (
	resultLinkTagPattern   = regexp.MustCompile(`(?i)<a[^>]*class=['"]result-link['"][^>]*>`)
	hrefPattern            = regexp.MustCompile(`(?i)href="([^"]+)"`)
	lyricsContainerPattern = regexp.MustCompile(`(?i)<div[^>]*data-lyrics-container="true"[^>]*>`)
	divTokenPattern        = regexp.MustCompile(`(?i)</?div\b[^>]*>`)
	brPattern              = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagPattern             = regexp.MustCompile(`<[^>]+>`)
)

// LyricsFetcher resolves a song title to lyrics text: a search restricted to
// genius.com, then a balanced-div scan of the lyrics page.
type LyricsFetcher struct {
	client    *http.Client
	searchURL string
	rotor     userAgentRotor
}

func NewLyricsFetcher(timeout time.Duration) *LyricsFetcher {
	if timeout <= 0 {
		timeout = fetchTimeout
	}
	return &LyricsFetcher{
		client:    &http.Client{Timeout: timeout},
		searchURL: "https://lite.duckduckgo.com/lite",
	}
}

// FetchLyrics returns the lyrics for title, or "" when no result page could
// be found. Network failures and bot challenges are errors.
func (f *LyricsFetcher) FetchLyrics(ctx context.Context, title string) (string, error) {
	searchHTML, err := f.get(ctx, f.searchURL+"?q="+url.QueryEscape(title+" genius.com"))
	if err != nil {
		return "", fmt.Errorf("search for %q: %w", title, err)
	}
	if strings.Contains(searchHTML, "anomaly-modal") || strings.Contains(searchHTML, "bots use DuckDuckGo too") {
		return "", ErrBotChallenge
	}

	geniusURL := firstGeniusLink(searchHTML)
	if geniusURL == "" {
		logger.InfoCF("retrieval", "no genius result found", map[string]interface{}{"title": title})
		return "", nil
	}

	lyricsHTML, err := f.get(ctx, geniusURL)
	if err != nil {
		return "", fmt.Errorf("fetch lyrics page for %q: %w", title, err)
	}
	return extractLyrics(lyricsHTML), nil
}

func (f *LyricsFetcher) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.rotor.next())
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// firstGeniusLink scans result-link anchors in order, unwrapping one layer
// of redirect-link encoding, and returns the first genius.com hit.
func firstGeniusLink(searchHTML string) string {
	for _, tag := range resultLinkTagPattern.FindAllString(searchHTML, -1) {
		hrefMatch := hrefPattern.FindStringSubmatch(tag)
		if hrefMatch == nil {
			continue
		}
		href := html.UnescapeString(hrefMatch[1])
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		if strings.HasPrefix(href, "/l/?") ||
			strings.HasPrefix(href, "https://duckduckgo.com/l/?") ||
			strings.HasPrefix(href, "http://duckduckgo.com/l/?") {
			parsed, err := url.Parse(href)
			if err != nil {
				continue
			}
			if target := parsed.Query().Get("uddg"); target != "" {
				href = target
			}
		}
		if strings.Contains(strings.ToLower(href), "genius.com") {
			return href
		}
	}
	return ""
}

// extractLyrics walks each lyrics container, tracking nested div open/close
// tokens to find the matching close at depth zero, then strips markup.
func extractLyrics(lyricsHTML string) string {
	var lines []string
	for _, start := range lyricsContainerPattern.FindAllStringIndex(lyricsHTML, -1) {
		startIdx := start[1]
		depth := 1
		endIdx := startIdx
		for _, token := range divTokenPattern.FindAllStringIndex(lyricsHTML[startIdx:], -1) {
			tag := strings.ToLower(lyricsHTML[startIdx+token[0] : startIdx+token[1]])
			if strings.HasPrefix(tag, "</div") {
				depth--
			} else {
				depth++
			}
			if depth == 0 {
				endIdx = startIdx + token[0]
				break
			}
		}
		chunk := lyricsHTML[startIdx:endIdx]
		chunk = brPattern.ReplaceAllString(chunk, "\n")
		chunk = tagPattern.ReplaceAllString(chunk, "")
		chunk = html.UnescapeString(chunk)
		for _, line := range strings.Split(chunk, "\n") {
			if text := strings.TrimSpace(line); text != "" {
				lines = append(lines, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
