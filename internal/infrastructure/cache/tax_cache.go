package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
	"paydesk/pkg/logger"
)

// TaxChannel is the NOTIFY channel raised when wtax_types or the VAT
// setting change.
const TaxChannel = "wtax_changed"

// TaxTypeSource is the backing store of the cache.
type TaxTypeSource interface {
	wtax.Repository
	wtax.VATSource
}

// TaxTypeCache keeps tax types and the VAT rate in memory. Entries are
// loaded lazily and dropped on every NOTIFY wtax_changed, so edits made by
// back office tools reach all instances without polling.
type TaxTypeCache struct {
	source TaxTypeSource
	pool   *pgxpool.Pool

	mu      sync.RWMutex
	loaded  bool
	byCode  map[string]wtax.TaxType
	ordered []wtax.TaxType
	vatRate types.Money

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewTaxTypeCache wraps source. pool may be nil, in which case only
// Invalidate clears the cache.
func NewTaxTypeCache(source TaxTypeSource, pool *pgxpool.Pool) *TaxTypeCache {
	return &TaxTypeCache{source: source, pool: pool}
}

var _ TaxTypeSource = (*TaxTypeCache)(nil)

// GetByCode implements wtax.Repository.
func (c *TaxTypeCache) GetByCode(ctx context.Context, code string) (*wtax.TaxType, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byCode[code]
	if !ok {
		return nil, apperror.NewNotFound("tax type", code)
	}
	return &t, nil
}

// List implements wtax.Repository.
func (c *TaxTypeCache) List(ctx context.Context) ([]wtax.TaxType, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]wtax.TaxType(nil), c.ordered...), nil
}

// VATRate implements wtax.VATSource.
func (c *TaxTypeCache) VATRate(ctx context.Context) (types.Money, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return types.Zero(), err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vatRate, nil
}

// Invalidate drops cached entries; the next read reloads them.
func (c *TaxTypeCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.byCode = nil
	c.ordered = nil
	c.mu.Unlock()
}

func (c *TaxTypeCache) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	items, err := c.source.List(ctx)
	if err != nil {
		return fmt.Errorf("load tax types: %w", err)
	}
	vat, err := c.source.VATRate(ctx)
	if err != nil {
		return fmt.Errorf("load vat rate: %w", err)
	}

	byCode := make(map[string]wtax.TaxType, len(items))
	for _, t := range items {
		byCode[t.Code] = t
	}

	c.mu.Lock()
	c.byCode = byCode
	c.ordered = items
	c.vatRate = vat
	c.loaded = true
	c.mu.Unlock()

	logger.Debug(ctx, "tax types loaded", "count", len(items), "vat_rate", vat.String())
	return nil
}

// Start begins listening for NOTIFY events. It is a no-op without a pool.
func (c *TaxTypeCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "tax type cache started", "channel", TaxChannel)
}

// Stop ends the listener and waits for it to exit.
func (c *TaxTypeCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *TaxTypeCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+TaxChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", TaxChannel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Anything missed while disconnected is reloaded.
		c.Invalidate()
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *TaxTypeCache) waitForNotifications(conn *pgxpool.Conn) {
	for c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Warn(c.ctx, "LISTEN connection lost", "error", err)
			return
		}

		logger.Debug(c.ctx, "tax types changed", "payload", n.Payload)
		c.Invalidate()
	}
}

func (c *TaxTypeCache) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
}
