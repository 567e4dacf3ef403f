package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"

	"skycrash/internal/game"
)

// clientMessage is the inbound websocket command envelope.
type clientMessage struct {
	Type          string      `json:"type"`
	Stake         float64     `json:"stake"`
	AutoCashoutAt float64     `json:"auto_cashout_at"`
	Stream        game.Stream `json:"stream"`
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	// The snapshot replaces any missed feed: commitment and countdown while
	// waiting, live multipliers while running, the reveal once ended.
	s.sendInitialState(client, userID)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			bet, err := s.manager.PlaceBet(context.Background(), game.BetRequest{
				UserID:        userID,
				Stake:         msg.Stake,
				AutoCashoutAt: msg.AutoCashoutAt,
				Stream:        msg.Stream,
			})
			if err != nil {
				client.Send(s.log, game.EventBetError, map[string]string{"reason": err.Error()})
				continue
			}
			client.Send(s.log, game.EventBetAccepted, bet)

		case "cashout":
			bet, err := s.manager.Cashout(context.Background(), userID, msg.Stream)
			if err != nil {
				client.Send(s.log, game.EventCashoutError, map[string]string{"reason": err.Error()})
				continue
			}
			client.Send(s.log, game.EventCashedOut, bet)

		case "join":
			s.sendInitialState(client, userID)

		case "ping":
			client.Send(s.log, "pong", nil)
		}
	}
}

func (s *FiberServer) sendInitialState(client *game.Client, userID string) {
	snap, ok := s.manager.Snapshot()
	if !ok {
		return
	}
	payload := initialStatePayload(snap)
	if bet, ok := s.manager.BetFor(userID, game.StreamPrimary); ok {
		payload["bet"] = bet
	}
	if bet, ok := s.manager.BetFor(userID, game.StreamSecond); ok {
		payload["second_bet"] = bet
	}
	client.Send(s.log, game.EventInitialState, payload)
}

func initialStatePayload(snap game.Snapshot) map[string]any {
	return map[string]any{
		"round_id":           snap.RoundID,
		"state":              snap.State,
		"server_seed_hash":   snap.ServerSeedHash,
		"client_seed":        snap.ClientSeed,
		"nonce":              snap.Nonce,
		"multiplier":         snap.Multiplier,
		"second_multiplier":  snap.SecondMultiplier,
		"elapsed_ms":         snap.ElapsedMs,
		"server_seed":        snap.ServerSeed,
		"crash_point":        snap.CrashPoint,
		"second_crash_point": snap.SecondCrashPoint,
	}
}
