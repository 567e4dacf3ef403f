package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"skycrash/internal/fair"
	"skycrash/internal/game"
	"skycrash/internal/history"
	"skycrash/internal/wallet"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.gameStateHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)
	api.Get("/game/recent", s.recentCrashesHandler)

	api.Get("/user/:userId/balance", s.userBalanceHandler)

	api.Get("/rounds/recent", s.recentRoundsHandler)
	api.Get("/rounds/:id/verify", s.verifyRoundHandler)

	api.Post("/dice/roll", s.diceRollHandler)
	api.Get("/dice/:gameId", s.diceGameHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health(c.Context())
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health(c.Context())
	}
	return c.JSON(health)
}

func (s *FiberServer) gameStateHandler(c *fiber.Ctx) error {
	snap, ok := s.manager.Snapshot()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no active round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	bet, err := s.manager.PlaceBet(c.Context(), req)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(bet)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req struct {
		UserID string      `json:"user_id"`
		Stream game.Stream `json:"stream"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	bet, err := s.manager.Cashout(c.Context(), req.UserID, req.Stream)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(bet)
}

func (s *FiberServer) recentCrashesHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return c.JSON(fiber.Map{"crashes": []float64{}})
	}
	points, err := s.cache.RecentCrashes(c.Context(), s.cfg.TableID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load recent crashes",
		})
	}
	return c.JSON(fiber.Map{"crashes": points})
}

func (s *FiberServer) userBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	balance, err := s.wallet.Balance(c.Context(), userID, s.cfg.Currency)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read balance",
		})
	}
	return c.JSON(fiber.Map{
		"user_id":  userID,
		"currency": s.cfg.Currency,
		"balance":  balance,
	})
}

func (s *FiberServer) recentRoundsHandler(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON(fiber.Map{"rounds": []history.RoundSummary{}})
	}
	rounds, err := s.history.RecentRounds(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load rounds",
		})
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

// verifyRoundHandler re-derives an archived round's crash points from its
// revealed seeds so anyone can confirm the pre-commitment was honored.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "round archive unavailable",
		})
	}
	rec, err := s.history.Round(c.Context(), c.Params("id"))
	if errors.Is(err, history.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "round not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load round",
		})
	}

	commitmentOK := fair.VerifyCommitment(rec.ServerSeed, rec.ServerSeedHash)
	primaryOK := fair.VerifyCrashPoint(rec.ServerSeed, rec.ClientSeed, rec.Nonce, rec.HouseEdge, "", rec.CrashPoint)
	secondOK := fair.VerifyCrashPoint(rec.ServerSeed, rec.ClientSeed, rec.Nonce, rec.HouseEdge, fair.StreamSecond, rec.SecondCrashPoint)

	return c.JSON(fiber.Map{
		"round_id":           rec.ID,
		"server_seed":        rec.ServerSeed,
		"server_seed_hash":   rec.ServerSeedHash,
		"client_seed":        rec.ClientSeed,
		"nonce":              rec.Nonce,
		"crash_point":        rec.CrashPoint,
		"second_crash_point": rec.SecondCrashPoint,
		"commitment_valid":   commitmentOK,
		"crash_points_valid": primaryOK && secondOK,
		"valid":              commitmentOK && primaryOK && secondOK,
	})
}

func (s *FiberServer) diceRollHandler(c *fiber.Ctx) error {
	var req game.DiceRollRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	roll, err := s.dice.Roll(c.Context(), req)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(roll)
}

func (s *FiberServer) diceGameHandler(c *fiber.Ctx) error {
	roll, err := s.dice.Game(c.Context(), c.Params("gameId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "game not found",
		})
	}
	return c.JSON(roll)
}

// statusFor maps engine rejections onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidStake),
		errors.Is(err, game.ErrStakeOutOfRange),
		errors.Is(err, game.ErrInvalidAutoCashout),
		errors.Is(err, game.ErrInvalidTarget),
		errors.Is(err, game.ErrUnknownStream):
		return fiber.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, game.ErrBettingClosed),
		errors.Is(err, game.ErrCashoutClosed),
		errors.Is(err, game.ErrDuplicateBet),
		errors.Is(err, game.ErrAlreadySettled),
		errors.Is(err, game.ErrStreamCrashed),
		errors.Is(err, game.ErrRoundVoided):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrNoActiveBet):
		return fiber.StatusNotFound
	case errors.Is(err, game.ErrCommandTimeout),
		errors.Is(err, game.ErrCommandRejected):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
