// Package parser extracts channel history from the public web preview.
package parser

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ChannelPipeline/internal/domain"
)

var backgroundURLExpr = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// Page is one history page. Messages keep page order, oldest first.
type Page struct {
	Title      string
	HasHistory bool
	Messages   []domain.ProviderMessage
}

// Author is the post signature as shown by the preview.
type Author struct {
	Handle    string
	Name      string
	Signature string
}

// ID is a stable identifier derived from the handle; the preview exposes no numeric ids.
func (a Author) ID() int64 { return StableID(a.Handle) }

func (a Author) Username() string { return a.Handle }

// FirstName and LastName split the signature when present, else the display name.
func (a Author) FirstName() string {
	first, _ := splitName(a.displayName())
	return first
}

func (a Author) LastName() string {
	_, last := splitName(a.displayName())
	return last
}

func (a Author) String() string {
	if a.Signature != "" {
		return a.Signature
	}
	return a.Name
}

func (a Author) displayName() string {
	if a.Signature != "" {
		return a.Signature
	}
	return a.Name
}

// Forward describes the origin of a forwarded post.
type Forward struct {
	Name string
	URL  string
}

func (f Forward) String() string {
	if f.URL == "" {
		return f.Name
	}
	return fmt.Sprintf("%s (%s)", f.Name, f.URL)
}

// Media describes an attachment.
type Media struct {
	Kind string
	URL  string
}

func (m Media) String() string { return m.Kind }

// ParseChannelPage reads every message bubble of a t.me/s/<channel> document.
func ParseChannelPage(doc *goquery.Document, channel string) (Page, error) {
	page := Page{
		Title:      strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text()),
		HasHistory: doc.Find(".tgme_channel_history").Length() > 0 || doc.Find(".tgme_widget_message").Length() > 0,
	}

	chatID := StableID(channel)
	var parseErr error
	doc.Find(".tgme_widget_message[data-post]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		msg, err := parseMessage(s, channel)
		if err != nil {
			parseErr = err
			return false
		}
		msg.ChatID = chatID
		if page.Title == "" {
			page.Title = strings.TrimSpace(s.Find(".tgme_widget_message_owner_name").First().Text())
		}
		page.Messages = append(page.Messages, msg)
		return true
	})
	if parseErr != nil {
		return Page{}, parseErr
	}

	for i := range page.Messages {
		page.Messages[i].ChatTitle = page.Title
	}
	return page, nil
}

func parseMessage(s *goquery.Selection, channel string) (domain.ProviderMessage, error) {
	post, _ := s.Attr("data-post")
	id, err := postID(post)
	if err != nil {
		return domain.ProviderMessage{}, fmt.Errorf("message %q: %w", post, err)
	}

	msg := domain.ProviderMessage{
		ID:    id,
		Extra: map[string]any{"post": post},
	}

	text := s.Find(".tgme_widget_message_text").First()
	if text.Length() > 0 {
		msg.Text = strings.TrimSpace(textWithBreaks(text))
	}

	if datetime, ok := s.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		parsed, err := time.Parse(time.RFC3339, datetime)
		if err != nil {
			return domain.ProviderMessage{}, fmt.Errorf("message %d: parse date: %w", id, err)
		}
		msg.Date = parsed.UTC()
	}

	owner := s.Find(".tgme_widget_message_owner_name").First()
	author := Author{
		Handle:    channel,
		Name:      strings.TrimSpace(owner.Text()),
		Signature: strings.TrimSpace(s.Find(".tgme_widget_message_from_author").First().Text()),
	}
	if href, ok := owner.Attr("href"); ok {
		if handle := handleFromURL(href); handle != "" {
			author.Handle = handle
		}
	}
	msg.Sender = author

	if fwd := s.Find(".tgme_widget_message_forwarded_from_name").First(); fwd.Length() > 0 {
		href, _ := fwd.Attr("href")
		msg.ForwardFrom = Forward{Name: strings.TrimSpace(fwd.Text()), URL: href}
	}

	if href, ok := s.Find("a.tgme_widget_message_reply").First().Attr("href"); ok {
		if replyID, err := postID(href); err == nil {
			msg.ReplyToMsgID = &replyID
		}
	}

	switch {
	case s.Find(".tgme_widget_message_photo_wrap").Length() > 0:
		style, _ := s.Find(".tgme_widget_message_photo_wrap").First().Attr("style")
		msg.Media = Media{Kind: "photo", URL: backgroundURL(style)}
	case s.Find(".tgme_widget_message_video_player, .tgme_widget_message_video").Length() > 0:
		msg.Media = Media{Kind: "video"}
	case s.Find(".tgme_widget_message_document").Length() > 0:
		msg.Media = Media{Kind: "document"}
	}
	if media, ok := msg.Media.(Media); ok {
		msg.MediaType = media.Kind
		msg.MediaURL = media.URL
	}

	if views := strings.TrimSpace(s.Find(".tgme_widget_message_views").First().Text()); views != "" {
		msg.Extra["views"] = views
	}
	if strings.Contains(s.Find(".tgme_widget_message_meta").Text(), "edited") {
		msg.Extra["edited"] = true
	}

	return msg, nil
}

// StableID hashes a handle into a positive int64.
func StableID(handle string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(handle)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func postID(post string) (int64, error) {
	post = strings.TrimSuffix(strings.TrimSpace(post), "/")
	if idx := strings.Index(post, "?"); idx >= 0 {
		post = post[:idx]
	}
	idx := strings.LastIndex(post, "/")
	if idx < 0 {
		return 0, fmt.Errorf("no message id in %q", post)
	}
	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse message id: %w", err)
	}
	return id, nil
}

func handleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Trim(path.Base(u.Path), "/")
}

func backgroundURL(style string) string {
	match := backgroundURLExpr.FindStringSubmatch(style)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

func textWithBreaks(s *goquery.Selection) string {
	var sb strings.Builder
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "br" {
			sb.WriteString("\n")
			return
		}
		if node.Children().Length() > 0 {
			sb.WriteString(textWithBreaks(node))
			return
		}
		sb.WriteString(node.Text())
	})
	return sb.String()
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	first, last, found := strings.Cut(name, " ")
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(last)
}
