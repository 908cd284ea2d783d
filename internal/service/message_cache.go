package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gitjhb/luna-sub003/internal/domain"
	"github.com/gitjhb/luna-sub003/internal/remote"
	"github.com/gitjhb/luna-sub003/internal/repository"
)

const (
	defaultPageSize    = 20
	defaultDedupWindow = 30 * time.Second
)

var (
	ErrCacheNotConfigured = errors.New("message cache not configured")
	ErrCacheInvalidInput  = errors.New("message cache invalid input")
	ErrMessageNotFound    = errors.New("message not found in cache")

	errStaleGeneration = errors.New("conversation reset while fetching")
)

// CacheOptions: valores <= 0 toman los defaults (20 mensajes, 30s).
type CacheOptions struct {
	PageSize    int
	DedupWindow time.Duration
}

// MessageCache combina el store local y el canal remoto en una vista por
// conversación deduplicada y paginable. Es el único dueño del conjunto de
// páginas; los lectores sólo reciben copias ya fusionadas.
type MessageCache struct {
	store   repository.MessageRepository
	remote  remote.MessageChannel
	opts    CacheOptions
	logger  *zap.Logger
	metrics *CacheMetrics

	mu       sync.Mutex
	sessions map[string]*sessionPages
	// gens sobrevive a Clear; cambia en cada reset o borrado de la conversación.
	gens map[string]uint64

	// storeMu excluye a Clear mientras un fetch escribe lo que trajo.
	storeMu sync.RWMutex

	flight singleflight.Group
	bg     sync.WaitGroup
}

// sessionPages guarda las páginas de una conversación; pages[0] es la más reciente.
type sessionPages struct {
	pages    []domain.Page
	restored bool
}

func NewMessageCache(store repository.MessageRepository, ch remote.MessageChannel, opts CacheOptions, logger *zap.Logger, metrics *CacheMetrics) *MessageCache {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageCache{
		store:    store,
		remote:   ch,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*sessionPages),
		gens:     make(map[string]uint64),
	}
}

// LoadFirstPage sirve la página más reciente. Si el store local tiene
// mensajes se devuelven sin tocar la red y se programa una reconciliación en
// segundo plano; si no, se pide al remoto y se persiste.
func (c *MessageCache) LoadFirstPage(ctx context.Context, sessionID string) (domain.Page, error) {
	if c == nil || c.store == nil || c.remote == nil {
		return domain.Page{}, ErrCacheNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Page{}, ErrCacheInvalidInput
	}

	local, err := c.store.ListBySessionID(ctx, sessionID, repository.ListOptions{Limit: c.opts.PageSize, Order: repository.NewestFirst})
	if err != nil {
		c.logger.Warn("local store read failed, falling back to remote", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err == nil {
		if page, ok := c.resumeRestored(sessionID, local); ok {
			c.metrics.load("snapshot")
			c.scheduleReconcile(ctx, sessionID)
			return page, nil
		}
	}
	if err == nil && len(local) > 0 {
		slices.Reverse(local)
		page := domain.Page{Messages: local, FromCache: true}
		page.Cursor = page.OldestServerID()
		page.HasMore = page.Cursor != ""

		c.resetPages(sessionID, page)
		c.metrics.load("local")
		c.scheduleReconcile(ctx, sessionID)
		return clonePage(page), nil
	}

	gen := c.generation(sessionID)
	res, err := c.fetch(ctx, sessionID, "")
	if err != nil {
		c.metrics.remoteError("first_page")
		return domain.Page{}, fmt.Errorf("load first page: %w", err)
	}
	page := pageFromRemote(res)

	c.storeMu.RLock()
	if c.generation(sessionID) == gen {
		c.persist(ctx, page.Messages)
		c.resetPages(sessionID, page)
	}
	c.storeMu.RUnlock()
	c.metrics.load("remote")
	return clonePage(page), nil
}

// LoadOlderPage pide al remoto la página anterior a cursor. Un cursor vacío
// significa que no hay más historial y devuelve una página vacía.
func (c *MessageCache) LoadOlderPage(ctx context.Context, sessionID, cursor string) (domain.Page, error) {
	if c == nil || c.store == nil || c.remote == nil {
		return domain.Page{}, ErrCacheNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Page{}, ErrCacheInvalidInput
	}
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return domain.Page{Messages: []domain.Message{}}, nil
	}

	gen := c.generation(sessionID)
	res, err := c.fetch(ctx, sessionID, cursor)
	if err != nil {
		c.metrics.remoteError("older_page")
		return domain.Page{}, fmt.Errorf("load older page: %w", err)
	}
	page := pageFromRemote(res)

	// Si la conversación se reinició o borró durante el fetch, la página se
	// devuelve pero no se guarda.
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	c.mu.Lock()
	current := c.gens[sessionID] == gen
	if current {
		state := c.state(sessionID)
		state.pages = append(state.pages, page)
	}
	c.mu.Unlock()
	if current {
		c.persist(ctx, page.Messages)
	}
	return clonePage(page), nil
}

// AppendOptimistic agrega un mensaje compuesto localmente a la página más
// reciente y lo escribe en el store local sin esperar al servidor.
func (c *MessageCache) AppendOptimistic(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	if c == nil || c.store == nil {
		return domain.Message{}, ErrCacheNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Message{}, ErrCacheInvalidInput
	}
	if msg.ID == "" {
		msg.ID = domain.LocalIDPrefix + uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}
	if msg.Status == "" {
		msg.Status = domain.StatusPending
	}
	msg.SessionID = sessionID
	msg.Unlocked = true

	c.appendToNewest(sessionID, msg)
	c.persist(ctx, []domain.Message{msg})
	return msg, nil
}

// AppendConfirmed agrega un mensaje ya autoritativo (p.ej. la respuesta del
// asistente) a la página más reciente y lo persiste.
func (c *MessageCache) AppendConfirmed(ctx context.Context, sessionID string, msg domain.Message) error {
	if c == nil || c.store == nil {
		return ErrCacheNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || msg.ID == "" {
		return ErrCacheInvalidInput
	}
	msg.SessionID = sessionID
	msg.Status = domain.StatusConfirmed
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.appendToNewest(sessionID, msg)
	c.persist(ctx, []domain.Message{msg})
	return nil
}

// ConfirmOptimistic reemplaza en su lugar el mensaje pendiente clientID por
// su identidad de servidor. Un createdAt cero conserva el timestamp local.
func (c *MessageCache) ConfirmOptimistic(ctx context.Context, sessionID, clientID, serverID string, createdAt time.Time) (domain.Message, error) {
	if c == nil || c.store == nil {
		return domain.Message{}, ErrCacheNotConfigured
	}
	if strings.TrimSpace(sessionID) == "" || clientID == "" || serverID == "" {
		return domain.Message{}, ErrCacheInvalidInput
	}

	confirmed, ok := c.updateMessage(sessionID, clientID, func(m *domain.Message) {
		m.ID = serverID
		m.ClientID = clientID
		m.Status = domain.StatusConfirmed
		if !createdAt.IsZero() {
			m.CreatedAt = createdAt
		}
	})
	if !ok {
		return domain.Message{}, ErrMessageNotFound
	}
	c.persist(ctx, []domain.Message{confirmed})
	if err := c.store.Delete(ctx, clientID); err != nil {
		c.metrics.localWriteError()
		c.logger.Warn("local delete failed", zap.String("session_id", sessionID), zap.String("message_id", clientID), zap.Error(err))
	}
	return confirmed, nil
}

// MarkFailed deja un mensaje optimista visible pero marcado como fallido.
func (c *MessageCache) MarkFailed(ctx context.Context, sessionID, clientID string) error {
	if c == nil || c.store == nil {
		return ErrCacheNotConfigured
	}
	failed, ok := c.updateMessage(sessionID, clientID, func(m *domain.Message) {
		m.Status = domain.StatusFailed
	})
	if !ok {
		return ErrMessageNotFound
	}
	// Create ignora ids existentes: se reescribe la fila para guardar el estado.
	if err := c.store.Delete(ctx, clientID); err != nil {
		c.metrics.localWriteError()
		c.logger.Warn("local delete failed", zap.String("session_id", sessionID), zap.String("message_id", clientID), zap.Error(err))
		return nil
	}
	c.persist(ctx, []domain.Message{failed})
	return nil
}

// Messages devuelve la vista fusionada de más nuevo a más viejo.
func (c *MessageCache) Messages(sessionID string) []domain.Message {
	return slices.Collect(c.View(sessionID))
}

// View es Messages como secuencia, calculada sobre una foto del estado actual.
func (c *MessageCache) View(sessionID string) iter.Seq[domain.Message] {
	if c == nil {
		return Merge(nil, 0)
	}
	c.mu.Lock()
	var pages []domain.Page
	if state, ok := c.sessions[sessionID]; ok {
		pages = clonePages(state.pages)
	}
	c.mu.Unlock()
	return Merge(pages, c.opts.DedupWindow)
}

// Cursor devuelve el cursor de la página más vieja cargada.
func (c *MessageCache) Cursor(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok || len(state.pages) == 0 {
		return ""
	}
	return state.pages[len(state.pages)-1].Cursor
}

// Clear descarta las páginas en memoria y las filas locales de la conversación.
func (c *MessageCache) Clear(ctx context.Context, sessionID string) error {
	if c == nil || c.store == nil {
		return ErrCacheNotConfigured
	}
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.gens[sessionID]++
	c.mu.Unlock()
	if err := c.store.DeleteBySessionID(ctx, sessionID); err != nil {
		return fmt.Errorf("clear local messages: %w", err)
	}
	return nil
}

// Wait bloquea hasta que terminen las reconciliaciones en curso.
func (c *MessageCache) Wait() {
	c.bg.Wait()
}

func (c *MessageCache) scheduleReconcile(ctx context.Context, sessionID string) {
	bgCtx := context.WithoutCancel(ctx)
	gen := c.generation(sessionID)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		added, err := c.reconcile(bgCtx, sessionID, gen)
		if errors.Is(err, errStaleGeneration) {
			c.metrics.reconciled("stale", 0)
			c.logger.Debug("reconciliation discarded", zap.String("session_id", sessionID))
			return
		}
		if err != nil {
			c.metrics.reconciled("error", 0)
			c.logger.Warn("reconciliation failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		c.metrics.reconciled("ok", added)
		if added > 0 {
			c.logger.Debug("reconciliation added messages", zap.String("session_id", sessionID), zap.Int("added", added))
		}
	}()
}

// reconcile trae la primera página remota y agrega lo que no se conocía. Solo
// inserta: nada existente se mueve ni se borra. Si la conversación cambió de
// generación desde gen, el resultado se descarta.
func (c *MessageCache) reconcile(ctx context.Context, sessionID string, gen uint64) (int, error) {
	res, err := c.fetch(ctx, sessionID, "")
	if err != nil {
		return 0, err
	}

	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	c.mu.Lock()
	state, ok := c.sessions[sessionID]
	if !ok || c.gens[sessionID] != gen {
		c.mu.Unlock()
		return 0, errStaleGeneration
	}
	var known []domain.Message
	for _, p := range state.pages {
		known = append(known, p.Messages...)
	}
	unseen := c.unseen(known, res.Messages)
	if len(unseen) > 0 {
		if len(state.pages) == 0 {
			state.pages = []domain.Page{{}}
		}
		newest := &state.pages[0]
		for _, m := range unseen {
			newest.Messages = insertChronological(newest.Messages, m)
		}
		if newest.Cursor == "" && res.HasMore {
			newest.Cursor = newest.OldestServerID()
			newest.HasMore = newest.Cursor != ""
		}
	}
	c.mu.Unlock()

	c.persist(ctx, unseen)
	return len(unseen), nil
}

// unseen filtra los mensajes remotos que no están ya presentes por id,
// ClientID o por contenido dentro de la ventana de un mensaje confirmado.
func (c *MessageCache) unseen(known, incoming []domain.Message) []domain.Message {
	ids := make(map[string]struct{}, len(known))
	for _, m := range known {
		ids[m.ID] = struct{}{}
		if m.ClientID != "" {
			ids[m.ClientID] = struct{}{}
		}
	}
	var out []domain.Message
	for _, m := range incoming {
		if _, ok := ids[m.ID]; ok {
			continue
		}
		if m.ClientID != "" {
			if _, ok := ids[m.ClientID]; ok {
				continue
			}
		}
		if c.confirmedWithin(known, m) {
			continue
		}
		ids[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (c *MessageCache) confirmedWithin(known []domain.Message, m domain.Message) bool {
	for _, k := range known {
		if provisional(k) || k.Content != m.Content || k.Role != m.Role {
			continue
		}
		if absDuration(k.CreatedAt.Sub(m.CreatedAt)) <= c.opts.DedupWindow {
			return true
		}
	}
	return false
}

// insertChronological coloca m después del último mensaje con CreatedAt <= al suyo.
func insertChronological(msgs []domain.Message, m domain.Message) []domain.Message {
	pos := 0
	for i, existing := range msgs {
		if !existing.CreatedAt.After(m.CreatedAt) {
			pos = i + 1
		}
	}
	return slices.Insert(msgs, pos, m)
}

// fetch coalesce pedidos concurrentes iguales (sesión, cursor) en una sola
// llamada. La llamada compartida no hereda la cancelación de quien la inició;
// cada llamador deja de esperar cuando se cancela su propio ctx.
func (c *MessageCache) fetch(ctx context.Context, sessionID, cursor string) (remote.PageResult, error) {
	key := sessionID + "|" + cursor
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.remote.FetchPage(shared, sessionID, remote.FetchOptions{Limit: c.opts.PageSize, BeforeID: cursor})
	})
	select {
	case <-ctx.Done():
		return remote.PageResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return remote.PageResult{}, r.Err
		}
		res := r.Val.(remote.PageResult)
		res.Messages = slices.Clone(res.Messages)
		return res, nil
	}
}

// persist escribe en el store local; los errores se registran y se descartan.
func (c *MessageCache) persist(ctx context.Context, msgs []domain.Message) {
	for _, m := range msgs {
		if err := c.store.Create(ctx, m); err != nil {
			c.metrics.localWriteError()
			c.logger.Warn("local store write dropped", zap.String("session_id", m.SessionID), zap.String("message_id", m.ID), zap.Error(err))
		}
	}
}

func (c *MessageCache) resetPages(sessionID string, page domain.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state(sessionID)
	state.pages = []domain.Page{page}
	state.restored = false
	c.gens[sessionID]++
}

func (c *MessageCache) generation(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[sessionID]
}

// resumeRestored conserva las páginas de un snapshot en la primera carga si
// el store local no trae mensajes que el snapshot desconozca.
func (c *MessageCache) resumeRestored(sessionID string, local []domain.Message) (domain.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok || !state.restored || len(state.pages) == 0 {
		return domain.Page{}, false
	}
	state.restored = false
	known := make(map[string]struct{})
	for _, p := range state.pages {
		for _, m := range p.Messages {
			known[m.ID] = struct{}{}
			if m.ClientID != "" {
				known[m.ClientID] = struct{}{}
			}
		}
	}
	for _, m := range local {
		if _, ok := known[m.ID]; !ok {
			return domain.Page{}, false
		}
	}
	page := clonePage(state.pages[0])
	page.FromCache = true
	return page, true
}

func (c *MessageCache) appendToNewest(sessionID string, msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state(sessionID)
	if len(state.pages) == 0 {
		state.pages = []domain.Page{{}}
	}
	state.pages[0].Messages = append(state.pages[0].Messages, msg)
}

func (c *MessageCache) updateMessage(sessionID, id string, fn func(*domain.Message)) (domain.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok {
		return domain.Message{}, false
	}
	for p := range state.pages {
		for i := range state.pages[p].Messages {
			if state.pages[p].Messages[i].ID == id {
				fn(&state.pages[p].Messages[i])
				return state.pages[p].Messages[i], true
			}
		}
	}
	return domain.Message{}, false
}

// state debe llamarse con mu tomado.
func (c *MessageCache) state(sessionID string) *sessionPages {
	state, ok := c.sessions[sessionID]
	if !ok {
		state = &sessionPages{}
		c.sessions[sessionID] = state
	}
	return state
}

func pageFromRemote(res remote.PageResult) domain.Page {
	page := domain.Page{Messages: res.Messages, HasMore: res.HasMore}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	if res.HasMore {
		page.Cursor = res.OldestID
		if page.Cursor == "" {
			page.Cursor = page.OldestServerID()
		}
	}
	return page
}

func clonePage(p domain.Page) domain.Page {
	p.Messages = slices.Clone(p.Messages)
	return p
}

func clonePages(pages []domain.Page) []domain.Page {
	out := make([]domain.Page, len(pages))
	for i, p := range pages {
		out[i] = clonePage(p)
	}
	return out
}
