package engine

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("engine.service",
	fx.Provide(
		NewLedgerStats,
		NewService,
	),
)

// Worker wires the asynq handlers and the daily sweep. Only the worker
// process loads it.
var Worker = fx.Module("engine.worker",
	fx.Provide(NewSweeper),
	fx.Invoke(
		registerTaskHandlers,
		StartSweeper,
	),
)

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TypeApplyReward, svc.HandleApplyRewardTask)
	mux.HandleFunc(TypeSettlementCheck, svc.HandleSettlementCheckTask)
}
