package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytrader/marketfeed/internal/model"
)

// Conn is one subscriber connection. Enqueue reports false when the event
// was dropped because the connection's outbox is full.
type Conn interface {
	ID() string
	Enqueue(event any) bool
	Close()
}

// Hub routes events to registered connections by group membership.
type Hub struct {
	logger *slog.Logger

	mu         sync.RWMutex
	conns      map[string]Conn
	groups     map[string]map[string]struct{} // group → conn IDs
	connGroups map[string]map[string]struct{} // conn ID → groups
	statuses   map[model.AssetClass]model.MarketStatus

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		conns:      make(map[string]Conn),
		groups:     make(map[string]map[string]struct{}),
		connGroups: make(map[string]map[string]struct{}),
		statuses:   make(map[model.AssetClass]model.MarketStatus),
	}
}

// bulkGroup receives every update of an asset class.
func bulkGroup(assetClass model.AssetClass) string {
	return "assetclass_" + string(assetClass)
}

// symbolGroup receives updates for one instrument.
func symbolGroup(assetClass model.AssetClass, ticker string) string {
	return string(assetClass) + "_" + ticker
}

// statusGroup receives market status changes for an asset class.
func statusGroup(assetClass model.AssetClass) string {
	return "marketstatus_" + string(assetClass)
}

// Register adds a connection and greets it with the supported asset classes.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.connGroups[conn.ID()] = make(map[string]struct{})
	total := len(h.conns)
	h.mu.Unlock()

	classes := make([]string, len(model.SupportedAssetClasses))
	for i, ac := range model.SupportedAssetClasses {
		classes[i] = string(ac)
	}
	conn.Enqueue(ConnectionStatusEvent{
		Type:                  EventConnectionStatus,
		Status:                "connected",
		ClientID:              conn.ID(),
		SupportedAssetClasses: classes,
	})

	h.logger.Info("client connected", "client_id", conn.ID(), "connections", total)
}

// Unregister removes a connection and all its group memberships. Safe to
// call more than once; disconnect paths race.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}
	for group := range h.connGroups[connID] {
		h.leaveLocked(connID, group)
	}
	delete(h.connGroups, connID)
	delete(h.conns, connID)

	h.logger.Info("client disconnected", "client_id", connID, "connections", len(h.conns))
}

// Subscribe joins a connection to the per-symbol groups of an asset class.
// The confirmation or rejection is delivered on the connection itself.
func (h *Hub) Subscribe(connID string, assetClass model.AssetClass, symbols any) error {
	conn, ok := h.conn(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}

	if !assetClass.Known() {
		conn.Enqueue(SubscriptionErrorEvent{
			Type:    EventSubscriptionError,
			Error:   ErrorInvalidAssetClass,
			Message: fmt.Sprintf("unsupported asset class %q", assetClass),
		})
		return fmt.Errorf("unsupported asset class %q", assetClass)
	}

	tickers := normalizeSymbols(symbols)
	if len(tickers) == 0 {
		conn.Enqueue(SubscriptionErrorEvent{
			Type:    EventSubscriptionError,
			Error:   ErrorNoSymbols,
			Message: "subscribe request contained no symbols",
		})
		return fmt.Errorf("no symbols in subscribe request")
	}

	h.mu.Lock()
	for _, ticker := range tickers {
		h.joinLocked(connID, symbolGroup(assetClass, ticker))
	}
	h.mu.Unlock()

	conn.Enqueue(SubscriptionResultEvent{
		Type:       EventSubscriptionConfirmed,
		AssetClass: string(assetClass),
		Symbols:    tickers,
	})
	return nil
}

// SubscribeBulk joins a connection to every update of an asset class.
func (h *Hub) SubscribeBulk(connID string, assetClass model.AssetClass) error {
	conn, ok := h.conn(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	if !assetClass.Known() {
		conn.Enqueue(SubscriptionErrorEvent{
			Type:    EventSubscriptionError,
			Error:   ErrorInvalidAssetClass,
			Message: fmt.Sprintf("unsupported asset class %q", assetClass),
		})
		return fmt.Errorf("unsupported asset class %q", assetClass)
	}

	h.mu.Lock()
	h.joinLocked(connID, bulkGroup(assetClass))
	h.mu.Unlock()

	conn.Enqueue(SubscriptionResultEvent{
		Type:       EventSubscriptionConfirmed,
		AssetClass: string(assetClass),
		Bulk:       true,
	})
	return nil
}

// Unsubscribe removes per-symbol memberships. Absent symbols leave the bulk
// membership of the asset class instead.
func (h *Hub) Unsubscribe(connID string, assetClass model.AssetClass, symbols any) error {
	conn, ok := h.conn(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}

	tickers := normalizeSymbols(symbols)

	h.mu.Lock()
	if len(tickers) == 0 {
		h.leaveLocked(connID, bulkGroup(assetClass))
	}
	for _, ticker := range tickers {
		h.leaveLocked(connID, symbolGroup(assetClass, ticker))
	}
	h.mu.Unlock()

	conn.Enqueue(SubscriptionResultEvent{
		Type:       EventUnsubscriptionConfirmed,
		AssetClass: string(assetClass),
		Symbols:    tickers,
	})
	return nil
}

// SubscribeMarketStatus joins the status feed of an asset class and
// immediately delivers the current status if one is known.
func (h *Hub) SubscribeMarketStatus(connID string, assetClass model.AssetClass) error {
	conn, ok := h.conn(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}
	if !assetClass.Known() {
		conn.Enqueue(SubscriptionErrorEvent{
			Type:    EventSubscriptionError,
			Error:   ErrorInvalidAssetClass,
			Message: fmt.Sprintf("unsupported asset class %q", assetClass),
		})
		return fmt.Errorf("unsupported asset class %q", assetClass)
	}

	h.mu.Lock()
	h.joinLocked(connID, statusGroup(assetClass))
	status, known := h.statuses[assetClass]
	h.mu.Unlock()

	if known {
		conn.Enqueue(statusEvent(assetClass, status))
	}
	return nil
}

// MarketStatus returns the last observed status for an asset class.
func (h *Hub) MarketStatus(assetClass model.AssetClass) (model.MarketStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status, ok := h.statuses[assetClass]
	return status, ok
}

// SendMarketStatusSnapshot delivers every known venue status to one
// connection, answering an explicit status query.
func (h *Hub) SendMarketStatusSnapshot(connID string) error {
	conn, ok := h.conn(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}

	h.mu.RLock()
	markets := make([]MarketStatusEvent, 0, len(h.statuses))
	for assetClass, status := range h.statuses {
		markets = append(markets, statusEvent(assetClass, status))
	}
	h.mu.RUnlock()

	conn.Enqueue(CurrentMarketStatusEvent{
		Type:      EventCurrentMarketStatus,
		Markets:   markets,
		Timestamp: time.Now().UnixMicro(),
	})
	return nil
}

// PublishMarketStatus records a status observation and fans it out to the
// asset class's status subscribers.
func (h *Hub) PublishMarketStatus(assetClass model.AssetClass, status model.MarketStatus) {
	h.mu.Lock()
	h.statuses[assetClass] = status
	h.mu.Unlock()

	h.deliver(statusGroup(assetClass), statusEvent(assetClass, status))
}

// PublishPrice fans a price point out to its symbol group and the asset
// class's bulk group. Fire-and-forget: full outboxes drop the event.
func (h *Hub) PublishPrice(pt model.PricePoint) {
	event := priceEvent(pt)

	h.mu.RLock()
	recipients := make(map[string]Conn)
	for id := range h.groups[symbolGroup(pt.AssetClass, pt.Ticker)] {
		if conn, ok := h.conns[id]; ok {
			recipients[id] = conn
		}
	}
	for id := range h.groups[bulkGroup(pt.AssetClass)] {
		if conn, ok := h.conns[id]; ok {
			recipients[id] = conn
		}
	}
	h.mu.RUnlock()

	for _, conn := range recipients {
		if conn.Enqueue(event) {
			h.published.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
}

// deliver sends an event to every member of one group.
func (h *Hub) deliver(group string, event any) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if conn, ok := h.conns[id]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if conn.Enqueue(event) {
			h.published.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
}

// CloseAll disconnects every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]Conn)
	h.groups = make(map[string]map[string]struct{})
	h.connGroups = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// HubStats is a point-in-time snapshot of hub counters.
type HubStats struct {
	Connections     int
	Groups          int
	EventsPublished int64
	EventsDropped   int64
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Connections:     len(h.conns),
		Groups:          len(h.groups),
		EventsPublished: h.published.Load(),
		EventsDropped:   h.dropped.Load(),
	}
}

func (h *Hub) conn(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	return conn, ok
}

// joinLocked and leaveLocked require h.mu held for writing.
func (h *Hub) joinLocked(connID, group string) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connID] = struct{}{}
	if cg, ok := h.connGroups[connID]; ok {
		cg[group] = struct{}{}
	}
}

func (h *Hub) leaveLocked(connID, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if cg, ok := h.connGroups[connID]; ok {
		delete(cg, group)
	}
}
