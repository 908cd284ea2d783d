package service

import (
	"iter"
	"time"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// Merge aplana el conjunto de páginas (la más reciente primero, cada una en
// orden ascendente) en una vista de más nuevo a más viejo sin duplicados.
//
// Un id repetido se descarta (gana la primera aparición). Un mensaje
// confirmado cuyo ClientID coincide con un pendiente ya visto lo reemplaza en
// su lugar. Dos mensajes con el mismo (content, role) separados por a lo sumo
// window son el mismo mensaje lógico; si el que quedó es provisional y el
// nuevo está confirmado, el confirmado ocupa su posición. Con window < 0 no se
// deduplica por contenido.
//
// La vista se calcula completa al llamar y la secuencia devuelta puede
// recorrerse varias veces.
func Merge(pages []domain.Page, window time.Duration) iter.Seq[domain.Message] {
	merged := mergePages(pages, window)
	return func(yield func(domain.Message) bool) {
		for _, m := range merged {
			if !yield(m) {
				return
			}
		}
	}
}

type contentKey struct {
	content string
	role    domain.Role
}

func mergePages(pages []domain.Page, window time.Duration) []domain.Message {
	total := 0
	for _, p := range pages {
		total += len(p.Messages)
	}
	out := make([]domain.Message, 0, total)
	byID := make(map[string]int, total)
	byContent := make(map[contentKey][]int)

	replace := func(idx int, msg domain.Message) {
		out[idx] = msg
		byID[msg.ID] = idx
		if msg.ClientID != "" {
			byID[msg.ClientID] = idx
		}
	}

	for _, page := range pages {
		for i := len(page.Messages) - 1; i >= 0; i-- {
			msg := page.Messages[i]
			if _, seen := byID[msg.ID]; seen {
				continue
			}
			if msg.ClientID != "" {
				if idx, seen := byID[msg.ClientID]; seen {
					if provisional(out[idx]) && !provisional(msg) {
						replace(idx, msg)
					}
					continue
				}
			}

			key := contentKey{content: msg.Content, role: msg.Role}
			if window >= 0 {
				if idx, ok := findWithin(out, byContent[key], msg.CreatedAt, window); ok {
					if provisional(out[idx]) && !provisional(msg) {
						replace(idx, msg)
					} else {
						byID[msg.ID] = idx
					}
					continue
				}
			}

			idx := len(out)
			out = append(out, msg)
			byID[msg.ID] = idx
			if msg.ClientID != "" {
				byID[msg.ClientID] = idx
			}
			byContent[key] = append(byContent[key], idx)
		}
	}
	return out
}

func findWithin(out []domain.Message, candidates []int, at time.Time, window time.Duration) (int, bool) {
	for _, idx := range candidates {
		if absDuration(out[idx].CreatedAt.Sub(at)) <= window {
			return idx, true
		}
	}
	return 0, false
}

// provisional indica un mensaje todavía sin identidad de servidor.
func provisional(m domain.Message) bool {
	return m.Status == domain.StatusPending || m.Status == domain.StatusFailed || m.IsLocal()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
