package domain

// Page es un bloque de historial en orden cronológico ascendente.
// Cursor es el id del mensaje más antiguo conocido por el servidor y queda
// vacío cuando no hay más historial.
type Page struct {
	Messages  []Message `json:"messages"`
	Cursor    string    `json:"cursor,omitempty"`
	HasMore   bool      `json:"has_more"`
	FromCache bool      `json:"from_cache,omitempty"`
}

// OldestServerID devuelve el id más antiguo que no sea local, o "" si no hay.
func (p Page) OldestServerID() string {
	for _, m := range p.Messages {
		if !m.IsLocal() {
			return m.ID
		}
	}
	return ""
}
