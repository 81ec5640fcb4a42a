package execution

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/gateway"
)

// SimulatedTxPrefix marks transaction references produced in DRY_RUN mode.
const SimulatedTxPrefix = "dryrun-"

// SimulatedExecutor fills every order in full at the current oracle price.
// It is used in DRY_RUN mode; nothing leaves the process.
type SimulatedExecutor struct {
	oracle gateway.PriceOracle
	newRef func() string
}

var _ gateway.Executor = (*SimulatedExecutor)(nil)

// NewSimulatedExecutor creates a SimulatedExecutor backed by oracle.
func NewSimulatedExecutor(oracle gateway.PriceOracle) *SimulatedExecutor {
	return &SimulatedExecutor{
		oracle: oracle,
		newRef: func() string { return SimulatedTxPrefix + uuid.New().String() },
	}
}

// ExecuteOrder implements gateway.Executor.
func (s *SimulatedExecutor) ExecuteOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	price, err := s.oracle.GetCurrentPrice(ctx, req.Pair)
	if err != nil {
		return nil, &domain.TransientExecutionError{Op: "simulated fill price", Err: err}
	}
	return &domain.OrderResult{
		TxRef:         s.newRef(),
		Success:       true,
		ExecutedPrice: price,
		ExecutedSize:  req.Size,
	}, nil
}

// ModeSwitch holds the process-wide execution mode. Safe for concurrent use.
type ModeSwitch struct {
	v atomic.Value // domain.ExecutionMode
}

// NewModeSwitch creates a switch starting in mode. Invalid modes start in
// DRY_RUN.
func NewModeSwitch(mode domain.ExecutionMode) *ModeSwitch {
	s := &ModeSwitch{}
	if !mode.IsValid() {
		mode = domain.ExecutionModeDryRun
	}
	s.v.Store(mode)
	return s
}

// Mode returns the current mode.
func (s *ModeSwitch) Mode() domain.ExecutionMode {
	return s.v.Load().(domain.ExecutionMode)
}

// Set changes the mode. Orders already submitted are unaffected.
func (s *ModeSwitch) Set(mode domain.ExecutionMode) error {
	if !mode.IsValid() {
		return domain.NewConfigValidationError("mode", "must be LIVE or DRY_RUN")
	}
	s.v.Store(mode)
	return nil
}
