package remote

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// El backend mezcla snake_case y camelCase según el endpoint y la versión.
// Toda la traducción a tipos de dominio pasa por estas tablas; fuera de este
// archivo sólo circulan tipos normalizados. Cada campo lista sus claves en
// orden de precedencia: gana la primera presente con valor utilizable.

type fieldKeys[F ~int] struct {
	field F
	keys  []string
}

func keySet[F ~int](table []fieldKeys[F]) map[string]struct{} {
	set := make(map[string]struct{})
	for _, entry := range table {
		for _, k := range entry.keys {
			set[k] = struct{}{}
		}
	}
	return set
}

type messageField int

const (
	msgID messageField = iota + 1
	msgClientID
	msgSessionID
	msgRole
	msgContent
	msgType
	msgLocked
	msgUnlocked
	msgImageURL
	msgVideoURL
	msgReaction
	msgCreatedAt
)

var messageFieldTable = []fieldKeys[messageField]{
	{msgID, []string{"message_id", "id", "messageId"}},
	{msgClientID, []string{"client_id", "clientId"}},
	{msgSessionID, []string{"session_id", "sessionId"}},
	{msgRole, []string{"role"}},
	{msgContent, []string{"content", "text"}},
	{msgType, []string{"message_type", "type", "messageType"}},
	{msgLocked, []string{"is_locked", "isLocked"}},
	{msgUnlocked, []string{"is_unlocked", "isUnlocked"}},
	{msgImageURL, []string{"image_url", "imageUrl"}},
	{msgVideoURL, []string{"video_url", "videoUrl"}},
	{msgReaction, []string{"reaction"}},
	{msgCreatedAt, []string{"created_at", "createdAt", "timestamp"}},
}

var messageKeys = keySet(messageFieldTable)

// normalizeMessage traduce un registro de mensaje. Las claves sin mapeo se
// conservan en Extra sin tocar. is_locked gana sobre is_unlocked.
func normalizeMessage(raw map[string]any, sessionID string) domain.Message {
	msg := domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Unlocked:  true,
		Status:    domain.StatusConfirmed,
	}
	lockedSet := false
	for _, entry := range messageFieldTable {
		switch entry.field {
		case msgID:
			msg.ID = firstString(raw, entry.keys...)
		case msgClientID:
			msg.ClientID = firstString(raw, entry.keys...)
		case msgSessionID:
			if v := firstString(raw, entry.keys...); v != "" {
				msg.SessionID = v
			}
		case msgRole:
			if v := firstOf(raw, entry.keys...); v != nil {
				msg.Role = domain.ParseRole(asString(v))
			}
		case msgContent:
			msg.Content = firstString(raw, entry.keys...)
		case msgType:
			msg.Type = firstString(raw, entry.keys...)
		case msgLocked:
			if v := firstOf(raw, entry.keys...); v != nil {
				msg.Unlocked = !asBool(v)
				lockedSet = true
			}
		case msgUnlocked:
			if v := firstOf(raw, entry.keys...); v != nil && !lockedSet {
				msg.Unlocked = asBool(v)
			}
		case msgImageURL:
			msg.ImageURL = firstString(raw, entry.keys...)
		case msgVideoURL:
			msg.VideoURL = firstString(raw, entry.keys...)
		case msgReaction:
			msg.Reaction = firstString(raw, entry.keys...)
		case msgCreatedAt:
			if t, ok := firstTime(raw, entry.keys...); ok {
				msg.CreatedAt = t
			}
		}
	}
	for key, value := range raw {
		if _, mapped := messageKeys[key]; mapped {
			continue
		}
		if msg.Extra == nil {
			msg.Extra = make(map[string]any)
		}
		msg.Extra[key] = value
	}
	return msg
}

func normalizePage(body map[string]any, sessionID string) PageResult {
	page := PageResult{
		HasMore:  asBool(firstOf(body, "has_more", "hasMore")),
		OldestID: asString(firstOf(body, "oldest_id", "oldestId")),
		NewestID: asString(firstOf(body, "newest_id", "newestId")),
	}
	items, _ := firstOf(body, "messages", "data").([]any)
	page.Messages = make([]domain.Message, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg := normalizeMessage(raw, sessionID)
		if msg.ID == "" {
			continue
		}
		page.Messages = append(page.Messages, msg)
	}
	if page.OldestID == "" && len(page.Messages) > 0 {
		page.OldestID = page.Messages[0].ID
	}
	if page.NewestID == "" && len(page.Messages) > 0 {
		page.NewestID = page.Messages[len(page.Messages)-1].ID
	}
	return page
}

func normalizeCompletion(body map[string]any, sessionID string) CompletionResult {
	result := CompletionResult{
		UserMessageID:   asString(firstOf(body, "user_message_id", "userMessageId")),
		TokensUsed:      int(asFloat(firstOf(body, "tokens_used", "tokensUsed"))),
		CreditsDeducted: asFloat(firstOf(body, "credits_deducted", "creditsDeducted")),
	}
	if extra, ok := firstOf(body, "extra_data", "extraData").(map[string]any); ok {
		result.ExtraData = extra
	}
	envelope := body
	if inner, ok := body["message"].(map[string]any); ok {
		envelope = inner
	}
	result.Message = normalizeMessage(envelope, sessionID)
	if envelope["role"] == nil {
		result.Message.Role = domain.RoleAssistant
	}
	if result.Message.CreatedAt.IsZero() {
		result.Message.CreatedAt = time.Now().UTC()
	}
	return result
}

type sessionField int

const (
	sesID sessionField = iota + 1
	sesParticipant
	sesName
	sesAvatar
	sesBackground
	sesLastMessageAt
	sesCreatedAt
)

var sessionFieldTable = []fieldKeys[sessionField]{
	{sesID, []string{"session_id", "id", "sessionId"}},
	{sesParticipant, []string{"participant_id", "character_id", "participantId", "characterId"}},
	{sesName, []string{"name", "character_name", "characterName"}},
	{sesAvatar, []string{"avatar_url", "avatarUrl", "character_avatar", "characterAvatar"}},
	{sesBackground, []string{"background_url", "backgroundUrl"}},
	{sesLastMessageAt, []string{"last_message_at", "lastMessageAt", "updated_at", "updatedAt"}},
	{sesCreatedAt, []string{"created_at", "createdAt"}},
}

func normalizeSession(raw map[string]any) domain.Session {
	var s domain.Session
	for _, entry := range sessionFieldTable {
		switch entry.field {
		case sesID:
			s.ID = firstString(raw, entry.keys...)
		case sesParticipant:
			s.ParticipantID = firstString(raw, entry.keys...)
		case sesName:
			s.Name = firstString(raw, entry.keys...)
		case sesAvatar:
			s.AvatarURL = firstString(raw, entry.keys...)
		case sesBackground:
			s.BackgroundURL = firstString(raw, entry.keys...)
		case sesLastMessageAt:
			// Se queda con la marca más reciente entre todas las claves.
			for _, k := range entry.keys {
				if t, ok := asTime(raw[k]); ok && t.After(s.LastMessageAt) {
					s.LastMessageAt = t
				}
			}
		case sesCreatedAt:
			if t, ok := firstTime(raw, entry.keys...); ok {
				s.CreatedAt = t
			}
		}
	}
	return s
}

// normalizeSessionList acepta un arreglo o un objeto {sessions: [...]}.
func normalizeSessionList(body any) []domain.Session {
	var items []any
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		items, _ = firstOf(v, "sessions", "data").([]any)
	}
	out := make([]domain.Session, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s := normalizeSession(raw); s.ID != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	return asString(firstOf(m, keys...))
}

// firstString devuelve el primer valor no vacío entre keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := asString(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := asTime(m[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

// asTime acepta RFC3339 (con o sin zona) y epoch en segundos o milisegundos.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f), true
		}
		return time.Time{}, false
	case float64:
		return epochToTime(t), true
	default:
		return time.Time{}, false
	}
}

func epochToTime(f float64) time.Time {
	// Por encima de 1e11 el valor sólo tiene sentido en milisegundos.
	if math.Abs(f) >= 1e11 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
