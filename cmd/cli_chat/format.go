package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/service"
)

func sendOptions() service.SendOptions {
	return service.SendOptions{RequestType: "chat"}
}

func sessionTitle(s domain.Session) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ParticipantID
}

func formatSession(s domain.Session) string {
	last := "sin mensajes"
	if !s.LastMessageAt.IsZero() {
		last = s.LastMessageAt.Local().Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("%-24s %-20s %s", s.ID, sessionTitle(s), last)
}

// formatMessage marca los mensajes que aún no confirmó el servidor.
func formatMessage(m domain.Message) string {
	var b strings.Builder
	if !m.CreatedAt.IsZero() {
		b.WriteString("[" + m.CreatedAt.Local().Format(time.TimeOnly) + "] ")
	}
	switch m.Role {
	case domain.RoleUser:
		b.WriteString("Tú: ")
	case domain.RoleAssistant:
		b.WriteString("Luna: ")
	default:
		b.WriteString(string(m.Role) + ": ")
	}
	if !m.Unlocked && m.Content == "" {
		b.WriteString("(bloqueado)")
	} else {
		b.WriteString(m.Content)
	}
	switch m.Status {
	case domain.StatusPending:
		b.WriteString(" (enviando)")
	case domain.StatusFailed:
		b.WriteString(" (fallido)")
	}
	return b.String()
}

func printHistory(out io.Writer, msgs []domain.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "(sin mensajes)")
		return
	}
	for _, m := range msgs {
		fmt.Fprintln(out, formatMessage(m))
	}
}

func reversed(msgs []domain.Message) []domain.Message {
	out := slices.Clone(msgs)
	slices.Reverse(out)
	return out
}
