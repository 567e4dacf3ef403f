package game

import (
	"context"

	"go.uber.org/zap"
)

type GameType string

const (
	GameTypeCrash GameType = "crash"
	GameTypeDice  GameType = "dice"
)

// GameEngine is the lifecycle contract for every game hosted by the server.
// Round-based games run their own loops; instant games resolve inside
// PlaceBet.
type GameEngine interface {
	GetType() GameType
	Start(ctx context.Context) error
	Stop() error
}

// GameFactory holds the registered engines and starts and stops them
// together.
type GameFactory struct {
	log     *zap.SugaredLogger
	engines map[GameType]GameEngine
}

func NewGameFactory(log *zap.SugaredLogger) *GameFactory {
	return &GameFactory{
		log:     log,
		engines: make(map[GameType]GameEngine),
	}
}

func (gf *GameFactory) RegisterEngine(engine GameEngine) {
	gf.engines[engine.GetType()] = engine
}

func (gf *GameFactory) GetEngine(gameType GameType) (GameEngine, bool) {
	engine, exists := gf.engines[gameType]
	return engine, exists
}

func (gf *GameFactory) StartAll(ctx context.Context) error {
	for gameType, engine := range gf.engines {
		if err := engine.Start(ctx); err != nil {
			return err
		}
		gf.log.Infow("engine started", "game", gameType)
	}
	return nil
}

func (gf *GameFactory) StopAll() error {
	for gameType, engine := range gf.engines {
		if err := engine.Stop(); err != nil {
			return err
		}
		gf.log.Infow("engine stopped", "game", gameType)
	}
	return nil
}
