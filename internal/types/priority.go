package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"go.uber.org/zap"
)

type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
)

type PriorityConfig struct {
	ComputeUnits uint32 // compute unit limit per transaction
	PriorityFee  uint64 // price in micro-lamports per compute unit
}

// PriorityManager строит compute-budget инструкции, которые executor
// добавляет в начало каждой транзакции.
type PriorityManager struct {
	profiles map[PriorityLevel]*PriorityConfig
	logger   *zap.Logger
}

func NewPriorityManager(logger *zap.Logger) *PriorityManager {
	return &PriorityManager{
		profiles: map[PriorityLevel]*PriorityConfig{
			// CLMM position instructions are heavier than plain swaps:
			// open+increase routinely lands around 300k CU.
			PriorityLow:    {ComputeUnits: 400_000, PriorityFee: 1_000},
			PriorityMedium: {ComputeUnits: 600_000, PriorityFee: 5_000},
			PriorityHigh:   {ComputeUnits: 1_000_000, PriorityFee: 25_000},
		},
		logger: logger,
	}
}

// CreatePriorityInstructions возвращает инструкции для заданного профиля.
func (pm *PriorityManager) CreatePriorityInstructions(level PriorityLevel) ([]solana.Instruction, error) {
	config, ok := pm.profiles[level]
	if !ok {
		return nil, fmt.Errorf("unknown priority level: %s", level)
	}
	return pm.createInstructions(config), nil
}

// CreateCustomPriorityInstructions строит инструкции с явными параметрами.
func (pm *PriorityManager) CreateCustomPriorityInstructions(priorityFee uint64, units uint32) []solana.Instruction {
	return pm.createInstructions(&PriorityConfig{ComputeUnits: units, PriorityFee: priorityFee})
}

func (pm *PriorityManager) createInstructions(config *PriorityConfig) []solana.Instruction {
	var instructions []solana.Instruction
	if config.ComputeUnits > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(config.ComputeUnits).Build())
	}
	if config.PriorityFee > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(config.PriorityFee).Build())
	}
	return instructions
}
