package domain

import (
	"strings"
	"time"
)

// Role identifica al emisor de un mensaje.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole normaliza el rol recibido por la red. Los roles desconocidos
// se tratan como assistant, que es lo que el backend emite por defecto.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return RoleUser
	case "system":
		return RoleSystem
	default:
		return RoleAssistant
	}
}

// MessageStatus describe el estado de entrega de un mensaje en el cliente.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusConfirmed MessageStatus = "confirmed"
	StatusFailed    MessageStatus = "failed"
)

// LocalIDPrefix marca los ids generados en el cliente antes de la confirmación.
const LocalIDPrefix = "local-"

type Message struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id,omitempty"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Type      string         `json:"type,omitempty"`
	ImageURL  string         `json:"image_url,omitempty"`
	VideoURL  string         `json:"video_url,omitempty"`
	Reaction  string         `json:"reaction,omitempty"`
	Unlocked  bool           `json:"unlocked"`
	Status    MessageStatus  `json:"status,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsLocal indica si el id todavía es el generado por el cliente.
func (m Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// IsPending indica si el mensaje espera confirmación del servidor.
func (m Message) IsPending() bool {
	return m.Status == StatusPending
}
