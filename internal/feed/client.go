package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whalewatch/whalewatch/internal/book"
	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/obsmetrics"
	"github.com/whalewatch/whalewatch/internal/xerrors"
)

// Client is the L1 exchange feed client: it owns a duplex websocket
// connection, a REST client for bootstrap snapshots, and one book.Book per
// subscribed symbol. Reconnects are transparent to callers — Book(symbol)
// keeps returning the same *book.Book instances across reconnects, so downstream
// consumers never observe a discontinuity in the event channels.
type Client struct {
	cfg     config.FeedConfig
	filters book.Filters
	log     *zap.Logger
	metrics *obsmetrics.Registry

	rest *resty.Client

	mu    sync.RWMutex
	books map[string]*book.Book

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New constructs a Client. Call Book(symbol) for each configured trading
// pair before Start to obtain the channels downstream consumers read.
func New(cfg config.FeedConfig, filters book.Filters, log *zap.Logger, metrics *obsmetrics.Registry) *Client {
	c := &Client{
		cfg:     cfg,
		filters: filters,
		log:     log.With(zap.String("component", "feed")),
		metrics: metrics,
		books:   make(map[string]*book.Book),
		rest:    resty.New().SetTimeout(cfg.RESTTimeout).SetRetryCount(1),
	}
	for _, sym := range cfg.TradingPairs {
		c.books[sym] = book.New(sym, filters, cfg.OrderBookDepth, log, metrics, 0, 0)
	}
	return c
}

// Book returns the book.Book instance for symbol, or nil if it was not
// part of the configured trading pairs.
func (c *Client) Book(symbol string) *book.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.books[symbol]
}

// Start runs the feed until ctx is cancelled, reconnecting with exponential
// backoff (5s doubling to a 60s cap) on any transport failure. Reconnect
// attempts are not limited: Start returns only once ctx is cancelled (nil
// or ctx.Err()), and it never returns xerrors.ErrFeedUnavailable.
func (c *Client) Start(ctx context.Context) error {
	backoff := c.cfg.BackoffInitial
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	maxBackoff := c.cfg.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.metrics.ReconnectAttempts.WithLabelValues(classifyReconnect(err)).Inc()
		c.log.Warn("feed connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func classifyReconnect(err error) string {
	if err == nil {
		return "unknown"
	}
	return "transport"
}

// runOnce opens one connection, subscribes, bootstraps every symbol, and
// runs the reader and ping loops until either fails or ctx is cancelled.
// A nil error return means ctx was cancelled cleanly.
func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dialing feed websocket: %w: %v", xerrors.ErrTransport, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer conn.Close()

	for _, sym := range c.cfg.TradingPairs {
		if err := c.subscribe(sym); err != nil {
			return err
		}
	}

	for _, sym := range c.cfg.TradingPairs {
		c.bootstrap(ctx, sym)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.pingLoop(gctx, conn) })

	err = g.Wait()
	if gctx.Err() != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) subscribe(symbol string) error {
	depthReq := subDepthRequest{
		Method: methodSubDepthFull,
		Param:  subDepthParam{Symbol: symbol, Limit: c.cfg.OrderBookDepth},
	}
	if err := c.writeJSON(depthReq); err != nil {
		return err
	}
	dealReq := subDealRequest{Method: methodSubDeal, Param: subDealParam{Symbol: symbol}}
	return c.writeJSON(dealReq)
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("no active connection: %w", xerrors.ErrTransport)
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("writing frame: %w: %v", xerrors.ErrTransport, err)
	}
	return nil
}

// bootstrap fetches the initial REST snapshot for symbol and seeds its
// book. Failure is non-fatal per spec: the book proceeds with empty state
// and the first depth message seeds it instead.
func (c *Client) bootstrap(ctx context.Context, symbol string) {
	b := c.Book(symbol)
	if b == nil {
		return
	}

	resp, err := c.rest.R().SetContext(ctx).Get(fmt.Sprintf("%s/api/v1/contract/depth/%s", c.cfg.RESTURL, symbol))
	if err != nil {
		c.log.Warn("bootstrap REST fetch failed, proceeding with empty state", zap.String("symbol", symbol), zap.Error(err))
		b.Bootstrap(nil, nil)
		return
	}

	bids, asks, err := parseRESTSnapshot(resp.Body())
	if err != nil {
		c.log.Warn("bootstrap snapshot unparseable, proceeding with empty state", zap.String("symbol", symbol), zap.Error(err))
		b.Bootstrap(nil, nil)
		return
	}

	b.Bootstrap(bids, asks)
	c.log.Info("bootstrapped symbol", zap.String("symbol", symbol), zap.Int("bids", len(bids)), zap.Int("asks", len(asks)))
}

// readLoop is the reader child task: it drives on_depth/on_trade from
// inbound frames in arrival order, never reordering within a symbol.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading frame: %w: %v", xerrors.ErrTransport, err)
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.metrics.ParseErrors.WithLabelValues("unknown").Inc()
			c.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}

		switch env.Channel {
		case channelDepthFull:
			c.handleDepth(ctx, env)
		case channelDeal:
			c.handleDeal(ctx, env)
		case channelPong:
			// keepalive acknowledged; no action needed.
		}
	}
}

func (c *Client) handleDepth(ctx context.Context, env envelope) {
	b := c.Book(env.Symbol)
	if b == nil {
		return
	}
	msg, err := parseDepthPush(env.Data)
	if err != nil {
		c.metrics.ParseErrors.WithLabelValues(env.Symbol).Inc()
		c.log.Debug("dropping malformed depth push", zap.String("symbol", env.Symbol), zap.Error(err))
		return
	}
	b.OnDepth(ctx, msg)
}

func (c *Client) handleDeal(ctx context.Context, env envelope) {
	b := c.Book(env.Symbol)
	if b == nil {
		return
	}
	trades, err := parseDealPush(env.Data)
	if err != nil {
		c.metrics.ParseErrors.WithLabelValues(env.Symbol).Inc()
		c.log.Debug("dropping malformed deal push", zap.String("symbol", env.Symbol), zap.Error(err))
		return
	}
	for _, t := range trades {
		b.OnTrade(ctx, t)
	}
}

// pingLoop is the 15s keepalive child task. Two consecutive failed ping
// writes (miss-threshold = 2) tear down the connection so runOnce
// reconnects. Pong replies are not tracked: a ping that was written but
// never answered does not count as a miss.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	missThreshold := c.cfg.PingMissThreshold
	if missThreshold <= 0 {
		missThreshold = 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.writeJSON(pingRequest{Method: methodPing}); err != nil {
				misses++
				if misses >= missThreshold {
					return fmt.Errorf("missed %d consecutive pings: %w", misses, xerrors.ErrTransport)
				}
				continue
			}
			misses = 0
		}
	}
}

// Stop closes the active connection, which aborts any in-flight read. It
// does not wait for the reader to finish and does not stop Start from
// reconnecting; the feed ends only when Start's context is cancelled.
func (c *Client) Stop() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
