package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const historyHTML = `
<html><body>
<div class="tgme_channel_info_header_title"><span dir="auto">Alpha Pharmacy</span></div>
<section class="tgme_channel_history js-message_history">
  <div class="tgme_widget_message_wrap">
    <div class="tgme_widget_message js-widget_message" data-post="alpha/101">
      <div class="tgme_widget_message_author"><a class="tgme_widget_message_owner_name" href="https://t.me/alpha"><span dir="auto">Alpha Pharmacy</span></a></div>
      <a class="tgme_widget_message_photo_wrap" href="https://t.me/alpha/101" style="width:800px;background-image:url('https://cdn.example/file/abc.jpg')"></a>
      <div class="tgme_widget_message_text js-message_text" dir="auto">Paracetamol <b>500mg</b><br/>now available</div>
      <div class="tgme_widget_message_footer">
        <span class="tgme_widget_message_views">1.2K</span>
        <span class="tgme_widget_message_from_author">Sara Bekele</span>
        <span class="tgme_widget_message_meta"><a class="tgme_widget_message_date" href="https://t.me/alpha/101"><time datetime="2025-05-11T09:30:00+03:00" class="time">09:30</time></a></span>
      </div>
    </div>
  </div>
  <div class="tgme_widget_message_wrap">
    <div class="tgme_widget_message js-widget_message" data-post="alpha/102">
      <div class="tgme_widget_message_forwarded_from">Forwarded from <a class="tgme_widget_message_forwarded_from_name" href="https://t.me/beta/7"><span>Beta News</span></a></div>
      <a class="tgme_widget_message_reply" href="https://t.me/alpha/101"></a>
      <div class="tgme_widget_message_author"><a class="tgme_widget_message_owner_name" href="https://t.me/alpha"><span dir="auto">Alpha Pharmacy</span></a></div>
      <div class="tgme_widget_message_video_player"></div>
      <div class="tgme_widget_message_footer">
        <span class="tgme_widget_message_meta">edited <a class="tgme_widget_message_date" href="https://t.me/alpha/102"><time datetime="2025-05-11T10:00:00+00:00" class="time">10:00</time></a></span>
      </div>
    </div>
  </div>
</section>
</body></html>`

func TestParseChannelPage(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(historyHTML))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	page, err := ParseChannelPage(doc, "alpha")
	if err != nil {
		t.Fatalf("ParseChannelPage error: %v", err)
	}

	if !page.HasHistory {
		t.Fatalf("expected history section")
	}
	if page.Title != "Alpha Pharmacy" {
		t.Fatalf("unexpected title: %q", page.Title)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}

	first := page.Messages[0]
	if first.ID != 101 {
		t.Fatalf("unexpected id: %d", first.ID)
	}
	if first.Text != "Paracetamol 500mg\nnow available" {
		t.Fatalf("unexpected text: %q", first.Text)
	}
	wantDate := time.Date(2025, time.May, 11, 6, 30, 0, 0, time.UTC)
	if !first.Date.Equal(wantDate) {
		t.Fatalf("unexpected date: %v", first.Date)
	}
	if first.MediaType != "photo" || first.MediaURL != "https://cdn.example/file/abc.jpg" {
		t.Fatalf("unexpected media: %q %q", first.MediaType, first.MediaURL)
	}
	author, ok := first.Sender.(Author)
	if !ok {
		t.Fatalf("unexpected sender type %T", first.Sender)
	}
	if author.Username() != "alpha" || author.FirstName() != "Sara" || author.LastName() != "Bekele" {
		t.Fatalf("unexpected author: %+v", author)
	}
	if first.ChatID != StableID("alpha") || first.ChatTitle != "Alpha Pharmacy" {
		t.Fatalf("unexpected chat: %d %q", first.ChatID, first.ChatTitle)
	}
	if first.Extra["views"] != "1.2K" {
		t.Fatalf("unexpected views: %v", first.Extra["views"])
	}

	second := page.Messages[1]
	if second.HasText() {
		t.Fatalf("expected media-only message, got %q", second.Text)
	}
	if second.MediaType != "video" {
		t.Fatalf("unexpected media type: %q", second.MediaType)
	}
	if second.ReplyToMsgID == nil || *second.ReplyToMsgID != 101 {
		t.Fatalf("unexpected reply id: %v", second.ReplyToMsgID)
	}
	fwd, ok := second.ForwardFrom.(Forward)
	if !ok || fwd.Name != "Beta News" || fwd.URL != "https://t.me/beta/7" {
		t.Fatalf("unexpected forward: %#v", second.ForwardFrom)
	}
	if second.Extra["edited"] != true {
		t.Fatalf("expected edited marker")
	}
}

func TestParseChannelPageWithoutHistory(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><div class="tgme_page_title">Private</div></html>`))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	page, err := ParseChannelPage(doc, "hidden")
	if err != nil {
		t.Fatalf("ParseChannelPage error: %v", err)
	}
	if page.HasHistory || len(page.Messages) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestPostID(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"alpha/15":                      15,
		"https://t.me/alpha/200":        200,
		"https://t.me/alpha/201?single": 201,
	}
	for in, want := range cases {
		got, err := postID(in)
		if err != nil {
			t.Fatalf("postID(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("postID(%q) = %d, want %d", in, got, want)
		}
	}

	if _, err := postID("alpha"); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestStableIDIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	if StableID("Alpha") != StableID("alpha") {
		t.Fatalf("expected case-insensitive ids")
	}
	if StableID("alpha") < 0 {
		t.Fatalf("expected non-negative id")
	}
}
