package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/models"
)

const (
	// gatewayURL is the platform's stable gateway endpoint
	gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// Gateway opcodes
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11

	// Interactions arrive without privileged intents; guilds keeps
	// channel metadata flowing
	gatewayIntents = 1 << 0

	maxReconnectBackoff = 2 * time.Minute
)

// InteractionHandler receives every INTERACTION_CREATE dispatch
type InteractionHandler func(interaction *models.Interaction)

// Gateway maintains the websocket session that delivers interactions.
// Sessions are not resumed after a drop; the client reconnects with a
// fresh identify.
type Gateway struct {
	token   string
	handler InteractionHandler
	logger  arbor.ILogger

	writeMu sync.Mutex
	conn    *websocket.Conn

	seqMu   sync.Mutex
	lastSeq int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type gatewaySend struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	User models.ChatUser `json:"user"`
}

// NewGateway creates the gateway client. Start connects it.
func NewGateway(config *common.DiscordConfig, handler InteractionHandler, logger arbor.ILogger) *Gateway {
	return &Gateway{
		token:   config.Token,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start connects synchronously once, so a bad token fails boot, then
// keeps the session alive in the background
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(context.Background())

	conn, interval, err := g.connect(ctx)
	if err != nil {
		return err
	}

	go g.run(conn, interval)
	return nil
}

// Stop tears the session down
func (g *Gateway) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()

	g.writeMu.Lock()
	if g.conn != nil {
		g.conn.Close()
	}
	g.writeMu.Unlock()

	<-g.done
	g.logger.Info().Msg("Gateway disconnected")
}

// connect dials the gateway, waits for HELLO and identifies
func (g *Gateway) connect(ctx context.Context) (*websocket.Conn, time.Duration, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway dial failed: %w", err)
	}

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("gateway hello read failed: %w", err)
	}
	if hello.Op != opHello {
		conn.Close()
		return nil, 0, fmt.Errorf("gateway sent opcode %d before hello", hello.Op)
	}
	var helloBody helloData
	if err := json.Unmarshal(hello.D, &helloBody); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("gateway hello malformed: %w", err)
	}
	interval := time.Duration(helloBody.HeartbeatInterval) * time.Millisecond

	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()

	identify := gatewaySend{
		Op: opIdentify,
		D: identifyData{
			Token:   g.token,
			Intents: gatewayIntents,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "pictor",
				Device:  "pictor",
			},
		},
	}
	if err := g.send(identify); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("gateway identify failed: %w", err)
	}

	return conn, interval, nil
}

// run reads the current session to exhaustion, then reconnects with
// exponential backoff until stopped
func (g *Gateway) run(conn *websocket.Conn, interval time.Duration) {
	defer close(g.done)

	backoff := time.Second
	for {
		started := time.Now()
		err := g.readLoop(conn, interval)
		conn.Close()
		if g.ctx.Err() != nil {
			return
		}

		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		g.logger.Warn().Err(err).Str("retry_in", backoff.String()).Msg("Gateway session ended, reconnecting")

		conn, interval = g.waitForConnection(&backoff)
		if conn == nil {
			return
		}
	}
}

// waitForConnection retries connect until it succeeds or the gateway
// is stopped
func (g *Gateway) waitForConnection(backoff *time.Duration) (*websocket.Conn, time.Duration) {
	for {
		select {
		case <-g.ctx.Done():
			return nil, 0
		case <-time.After(*backoff):
		}
		if *backoff *= 2; *backoff > maxReconnectBackoff {
			*backoff = maxReconnectBackoff
		}

		conn, interval, err := g.connect(g.ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("Gateway reconnect failed")
			continue
		}
		return conn, interval
	}
}

// readLoop pumps one session. The read deadline doubles as zombie
// detection: heartbeat acks keep traffic flowing at least once per
// interval.
func (g *Gateway) readLoop(conn *websocket.Conn, interval time.Duration) error {
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go g.heartbeat(conn, interval, stopHeartbeat)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * interval))
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return err
		}

		switch payload.Op {
		case opDispatch:
			g.setSeq(payload.S)
			g.dispatch(&payload)
		case opHeartbeat:
			if err := g.send(gatewaySend{Op: opHeartbeat, D: g.seq()}); err != nil {
				return err
			}
		case opReconnect:
			return fmt.Errorf("gateway requested reconnect")
		case opInvalidSession:
			return fmt.Errorf("gateway invalidated the session")
		case opHeartbeatAck:
			// Traffic observed; the read deadline already moved
		}
	}
}

// heartbeat sends the keepalive at the server-dictated interval
func (g *Gateway) heartbeat(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := g.send(gatewaySend{Op: opHeartbeat, D: g.seq()}); err != nil {
				// Failing the write wakes the read loop via the closed
				// connection
				conn.Close()
				return
			}
		}
	}
}

// dispatch routes one gateway event
func (g *Gateway) dispatch(payload *gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(payload.D, &ready); err == nil {
			g.logger.Info().Str("bot_user_id", ready.User.ID).Msg("Gateway ready")
		}
	case "INTERACTION_CREATE":
		var interaction models.Interaction
		if err := json.Unmarshal(payload.D, &interaction); err != nil {
			g.logger.Warn().Err(err).Msg("Undecodable interaction, dropping")
			return
		}
		// Handlers answer over REST within the platform's reply window;
		// running them off the read loop keeps heartbeats unblocked
		common.SafeGo(g.logger, "interaction-dispatch", func() {
			g.handler(&interaction)
		})
	}
}

func (g *Gateway) send(payload gatewaySend) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return g.conn.WriteJSON(payload)
}

func (g *Gateway) seq() *int64 {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	if g.lastSeq == 0 {
		return nil
	}
	seq := g.lastSeq
	return &seq
}

func (g *Gateway) setSeq(seq int64) {
	if seq == 0 {
		return
	}
	g.seqMu.Lock()
	g.lastSeq = seq
	g.seqMu.Unlock()
}
