package scraper

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"ChannelPipeline/internal/domain"
)

type (
	senderID       interface{ ID() int64 }
	senderUsername interface{ Username() string }
	senderFirst    interface{ FirstName() string }
	senderLast     interface{ LastName() string }
)

// toRawMessage reduces every foreign-typed field at extraction time so the
// resulting record always encodes.
func toRawMessage(target domain.ChannelTarget, pm domain.ProviderMessage, scrapedAt time.Time) domain.RawMessage {
	msg := domain.RawMessage{
		MessageID:   pm.ID,
		ChatID:      pm.ChatID,
		ChatTitle:   pm.ChatTitle,
		ChannelName: channelName(target),
		MessageText: domain.StringPtr(pm.Text),
		MessageDate: pm.Date.UTC(),
		HasMedia:    pm.HasMedia(),
		MediaType:   domain.StringPtr(mediaType(pm)),
		ScrapedAt:   scrapedAt.UTC(),
	}
	if msg.ChatTitle == "" {
		msg.ChatTitle = msg.ChannelName
	}
	if pm.ReplyToMsgID != nil {
		reply := *pm.ReplyToMsgID
		msg.ReplyToMsgID = &reply
	}
	if pm.ForwardFrom != nil {
		msg.ForwardFrom = domain.StringPtr(primitiveString(pm.ForwardFrom))
	}

	applySender(&msg, pm.Sender)

	raw := map[string]any{
		"id":           pm.ID,
		"chat_id":      pm.ChatID,
		"date":         pm.Date,
		"text":         pm.Text,
		"sender":       pm.Sender,
		"forward_from": pm.ForwardFrom,
		"media":        pm.Media,
		"media_url":    pm.MediaURL,
	}
	if pm.ReplyToMsgID != nil {
		raw["reply_to_msg_id"] = *pm.ReplyToMsgID
	}
	for k, v := range pm.Extra {
		if _, taken := raw[k]; !taken {
			raw[k] = v
		}
	}
	if reduced, ok := Primitive(raw).(map[string]any); ok {
		msg.RawData = reduced
	}

	return msg
}

func applySender(msg *domain.RawMessage, sender any) {
	if sender == nil {
		return
	}

	if v, ok := sender.(senderID); ok {
		id := v.ID()
		msg.SenderID = &id
	}
	if v, ok := sender.(senderUsername); ok {
		msg.SenderUsername = domain.StringPtr(v.Username())
	}
	if v, ok := sender.(senderFirst); ok {
		msg.SenderFirstName = domain.StringPtr(v.FirstName())
	}
	if v, ok := sender.(senderLast); ok {
		msg.SenderLastName = domain.StringPtr(v.LastName())
	}

	fields, ok := Primitive(sender).(map[string]any)
	if !ok {
		return
	}
	if msg.SenderID == nil {
		if id, ok := asInt64(fields["id"]); ok {
			msg.SenderID = &id
		}
	}
	if msg.SenderUsername == nil {
		msg.SenderUsername = stringField(fields, "username")
	}
	if msg.SenderFirstName == nil {
		msg.SenderFirstName = stringField(fields, "first_name")
	}
	if msg.SenderLastName == nil {
		msg.SenderLastName = stringField(fields, "last_name")
	}
}

func stringField(fields map[string]any, key string) *string {
	if v, ok := fields[key].(string); ok {
		return domain.StringPtr(v)
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func mediaType(pm domain.ProviderMessage) string {
	if pm.MediaType != "" {
		return pm.MediaType
	}
	switch m := pm.Media.(type) {
	case nil:
		return ""
	case string:
		return m
	case fmt.Stringer:
		if rv := reflect.ValueOf(m); rv.Kind() != reflect.Pointer || !rv.IsNil() {
			return m.String()
		}
	}

	// pointers are walked down to the named attachment type
	t := reflect.TypeOf(pm.Media)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func channelName(target domain.ChannelTarget) string {
	if name := strings.TrimPrefix(strings.TrimSpace(target.Name), "@"); name != "" {
		return name
	}
	return target.Username()
}
