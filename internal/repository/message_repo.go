package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// ErrNotFound se devuelve cuando la fila pedida no existe en el store local.
var ErrNotFound = errors.New("not found")

// Order define el sentido de lectura por created_at.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// ListOptions acota una lectura por conversación. Limit <= 0 significa sin límite.
type ListOptions struct {
	Limit int
	Order Order
}

// MessageRepository es el store local de mensajes, indexado por id y
// particionado por sesión. Create ignora ids duplicados sin error.
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListBySessionID(ctx context.Context, sessionID string, opts ListOptions) ([]domain.Message, error)
	Delete(ctx context.Context, id string) error
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

// extraData es el contenido de la columna extra_data: todo lo que no tiene
// columna propia viaja aquí sin interpretar.
type extraData struct {
	Type        string         `json:"type,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	VideoURL    string         `json:"video_url,omitempty"`
	Reaction    string         `json:"reaction,omitempty"`
	Status      string         `json:"status,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	Passthrough map[string]any `json:"passthrough,omitempty"`
}

func encodeExtra(m domain.Message) ([]byte, error) {
	return json.Marshal(extraData{
		Type:        m.Type,
		ImageURL:    m.ImageURL,
		VideoURL:    m.VideoURL,
		Reaction:    m.Reaction,
		Status:      string(m.Status),
		ClientID:    m.ClientID,
		Passthrough: m.Extra,
	})
}

func decodeExtra(raw []byte, m *domain.Message) {
	if len(raw) == 0 {
		m.Status = domain.StatusConfirmed
		return
	}
	var extra extraData
	if err := json.Unmarshal(raw, &extra); err != nil {
		// Fila escrita por otra versión; se conserva el mensaje sin metadata.
		m.Status = domain.StatusConfirmed
		return
	}
	m.Type = extra.Type
	m.ImageURL = extra.ImageURL
	m.VideoURL = extra.VideoURL
	m.Reaction = extra.Reaction
	m.ClientID = extra.ClientID
	m.Extra = extra.Passthrough
	m.Status = domain.MessageStatus(extra.Status)
	if m.Status == "" {
		m.Status = domain.StatusConfirmed
	}
}
