package automation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	chapterTitleRe = regexp.MustCompile(`(?i)Chương\s+\d+\s*:(.*)`)
	blankLinesRe   = regexp.MustCompile(`\n\s*\n`)
	bookIDRe       = regexp.MustCompile(`/book/(\d+)`)
	chapterNumRe   = regexp.MustCompile(`/(\d+)\.html$`)
)

// ParseChapter splits a translation into its title line and body. A first
// line of the form "Chương N: title" yields just the title text; any other
// first line is used as is.
func ParseChapter(translation string) (title, content string) {
	first, rest, _ := strings.Cut(translation, "\n")
	if m := chapterTitleRe.FindStringSubmatch(first); m != nil {
		title = strings.TrimSpace(m[1])
	} else {
		title = strings.TrimSpace(first)
	}
	return title, strings.TrimSpace(rest)
}

// NormalizeContent expands escaped newlines and collapses runs of blank
// lines to a single one.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ChapterStatusURL derives the reader API endpoint that marks the chapter
// shown at pageURL as translated. Reader pages embed the source book URL
// (escaped) after prefix.
func ChapterStatusURL(pageURL, prefix, api string) (string, error) {
	bookURL := pageURL
	if prefix != "" && strings.HasPrefix(pageURL, prefix) {
		dec, err := url.PathUnescape(strings.TrimPrefix(pageURL, prefix))
		if err != nil {
			return "", fmt.Errorf("decode book url: %w", err)
		}
		bookURL = dec
	}
	u, err := url.Parse(bookURL)
	if err != nil {
		return "", fmt.Errorf("parse book url: %w", err)
	}
	book := bookIDRe.FindStringSubmatch(u.Path)
	chapter := chapterNumRe.FindStringSubmatch(u.Path)
	if book == nil || chapter == nil {
		return "", fmt.Errorf("invalid chapter url %q", bookURL)
	}
	return fmt.Sprintf("%s/api/chapters/%s--chapter-%s/status", strings.TrimRight(api, "/"), book[1], chapter[1]), nil
}

// UpdateChapterStatus marks a chapter as translated on the reader API.
func UpdateChapterStatus(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader([]byte(`{"translated":true}`)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("update chapter status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("update chapter status: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
