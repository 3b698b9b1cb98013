/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"chainguard.dev/fossilci/changesink"
)

// pubDateLayout is RFC 1123 with a numeric zone, allowing single-digit days.
const pubDateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// titleRE splits an RSS item title into the comment and its tag list.
var titleRE = regexp.MustCompile(`^(.*) \(tags: ([^()]*)\)$`)

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Creator string `xml:"http://purl.org/dc/elements/1.1/ creator"`
}

// fetchRSS reads the check-in timeline from the RSS feed.
func (p *Poller) fetchRSS(ctx context.Context) ([]changesink.Change, error) {
	body, err := p.get(ctx, "/timeline.rss", url.Values{"y": {"ci"}})
	if err != nil {
		return nil, err
	}
	return parseRSS(p.repoURL, body)
}

// parseRSS turns a Fossil RSS timeline into changes, oldest first.
func parseRSS(repoURL string, data []byte) ([]changesink.Change, error) {
	var feed rssFeed
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing RSS from %s: %w", repoURL, err)
	}

	changes := make([]changesink.Change, 0, len(feed.Channel.Items))
	// Items appear newest first.
	for _, item := range slices.Backward(feed.Channel.Items) {
		when, err := time.Parse(pubDateLayout, strings.TrimSpace(item.PubDate))
		if err != nil {
			return nil, fmt.Errorf("parsing pubDate of %s: %w", item.Link, err)
		}

		link := strings.TrimSpace(item.Link)
		ch := changesink.Change{
			Revlink:    link,
			Author:     item.Creator,
			Repository: repoURL,
			Project:    feed.Channel.Title,
			Revision:   link[strings.LastIndex(link, "/")+1:],
			When:       when.UTC(),
			Comments:   item.Title,
		}
		if m := titleRE.FindStringSubmatch(item.Title); m != nil {
			ch.Comments = m[1]
			ch.Branch = strings.Split(m[2], ", ")[0]
		}
		changes = append(changes, ch)
	}
	return changes, nil
}
