// internal/transaction/anchor_errors_test.go
package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnchorLogs(t *testing.T) {
	logs := []string{
		"Program whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc invoke [1]",
		"Program log: Instruction: IncreaseLiquidity",
		"Program log: AnchorError occurred. Error Code: LiquidityZero. Error Number: 6012. Error Message: Liquidity amount must be greater than zero.",
		"Program whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc failed",
	}

	ae, ok := parseAnchorLogs(logs)
	require.True(t, ok)
	assert.Equal(t, "LiquidityZero", ae.Name)
	assert.Equal(t, 6012, ae.Code)
	assert.Equal(t, "0x177c", ae.hexCode())
	assert.Equal(t, "Liquidity amount must be greater than zero", ae.Msg)
}

func TestParseAnchorLogs_NoAnchorRecord(t *testing.T) {
	_, ok := parseAnchorLogs([]string{
		"Program log: Instruction: DecreaseLiquidity",
		"Program consumed 18231 of 200000 compute units",
	})
	assert.False(t, ok)

	_, ok = parseAnchorLogs(nil)
	assert.False(t, ok)
}

func TestProgramError_IncludesHexCodeFromLogs(t *testing.T) {
	err := programError("increase_liquidity", "InstructionError(0, Custom(6012))", []string{
		"Program log: AnchorError occurred. Error Code: LiquidityZero. Error Number: 6012. Error Message: Liquidity amount must be greater than zero.",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x177c")
	assert.Contains(t, err.Error(), "LiquidityZero")
	assert.Contains(t, err.Error(), "increase_liquidity")
}
