// Package marketdata - bookstream.go implements BookStreamer against a
// Binance-compatible combined depth-stream websocket.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantspot/engine/internal/strategy"
)

const bookStreamReconnectDelay = 5 * time.Second

// BinanceBookStreamer streams partial order book depth over a combined
// websocket stream, one connection per symbol set.
type BinanceBookStreamer struct {
	baseURL string
	depth   int // 5, 10, or 20
	logger  *log.Logger
}

// NewBinanceBookStreamer creates a streamer against the given stream
// base URL ("wss://stream.binance.com:9443" for the public venue).
func NewBinanceBookStreamer(baseURL string, depth int, logger *log.Logger) *BinanceBookStreamer {
	if baseURL == "" {
		baseURL = "wss://stream.binance.com:9443"
	}
	if depth == 0 {
		depth = 20
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[bookstream] ", log.LstdFlags)
	}
	return &BinanceBookStreamer{baseURL: baseURL, depth: depth, logger: logger}
}

type depthUpdate struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Run connects to the combined depth stream for symbols and invokes
// onUpdate for every snapshot received. It reconnects on any read error
// until ctx is cancelled, mirroring an exchange feed's own retry
// expectations rather than giving up on a transient disconnect.
func (s *BinanceBookStreamer) Run(ctx context.Context, symbols []string, onUpdate func(strategy.OrderBookSnapshot)) error {
	if len(symbols) == 0 {
		return fmt.Errorf("marketdata: no symbols to stream")
	}

	streamToSymbol := map[string]string{}
	streams := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		stream := fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(toBinanceSymbol(symbol)), s.depth)
		streams = append(streams, stream)
		streamToSymbol[stream] = symbol
	}
	url := fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.runOnce(ctx, url, streamToSymbol, onUpdate); err != nil {
			s.logger.Printf("stream error, reconnecting in %s: %v", bookStreamReconnectDelay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bookStreamReconnectDelay):
		}
	}
}

func (s *BinanceBookStreamer) runOnce(ctx context.Context, url string, streamToSymbol map[string]string, onUpdate func(strategy.OrderBookSnapshot)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg combinedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		symbol, ok := streamToSymbol[msg.Stream]
		if !ok {
			continue
		}

		var depth depthUpdate
		if err := json.Unmarshal(msg.Data, &depth); err != nil {
			continue
		}

		snapshot := strategy.OrderBookSnapshot{
			Symbol:    symbol,
			Timestamp: time.Now(),
			Bids:      toLevels(depth.Bids),
			Asks:      toLevels(depth.Asks),
		}
		onUpdate(snapshot)
	}
}

func toLevels(raw [][2]string) []strategy.PriceLevel {
	levels := make([]strategy.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, strategy.PriceLevel{Price: price, Size: size})
	}
	return levels
}
