package dex

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorSignatures_SubstringMatching(t *testing.T) {
	sigs := ErrorSignatures{
		CombinedRejected: []string{"0x1770", "TransactionTooLarge"},
		AlreadyClosed:    []string{"0xbc4", "AccountNotInitialized"},
		NoRewards:        []string{"0x178a"},
	}

	// RPC возвращает коды внутри развёрнутого текста ошибки.
	rpcErr := errors.New(`transaction simulation failed: Error processing Instruction 2: custom program error: 0x1770 | Program log: combined call too large`)
	assert.True(t, sigs.IsCombinedCallRejected(rpcErr))
	assert.False(t, sigs.IsAlreadyClosed(rpcErr))
	assert.False(t, sigs.IsNoRewards(rpcErr))

	closedErr := errors.New("could not fetch account: AccountNotInitialized")
	assert.True(t, sigs.IsAlreadyClosed(closedErr))
	assert.False(t, sigs.IsCombinedCallRejected(closedErr))

	assert.True(t, sigs.IsNoRewards(errors.New("custom program error: 0x178a")))
}

func TestErrorSignatures_NilAndEmpty(t *testing.T) {
	sigs := ErrorSignatures{CombinedRejected: []string{"0x1770", ""}}

	assert.False(t, sigs.IsCombinedCallRejected(nil))
	// Пустая сигнатура не должна совпадать с любым текстом.
	assert.False(t, sigs.IsCombinedCallRejected(errors.New("some unrelated failure")))
}

func TestErrorSignatures_SentinelErrors(t *testing.T) {
	var sigs ErrorSignatures // без единого кода

	wrapped := fmt.Errorf("step open_with_liquidity: %w", ErrProtocolCallRejected)
	assert.True(t, sigs.IsCombinedCallRejected(wrapped))

	closed := fmt.Errorf("close: %w", ErrAlreadyClosed)
	assert.True(t, sigs.IsAlreadyClosed(closed))
}

func TestProtocolCallError_FormatAndUnwrap(t *testing.T) {
	inner := errors.New("custom program error: 0x1770")
	err := &ProtocolCallError{
		Protocol:  "whirlpool",
		Operation: OperationOpenWithLiquidity,
		Signature: "0x1770",
		Err:       inner,
	}

	assert.Contains(t, err.Error(), "whirlpool")
	assert.Contains(t, err.Error(), string(OperationOpenWithLiquidity))
	assert.Contains(t, err.Error(), "0x1770")
	assert.ErrorIs(t, err, inner)

	// Без распознанной сигнатуры формат короче, но исходная ошибка сохраняется.
	plain := &ProtocolCallError{Protocol: "raydium-clmm", Operation: OperationClose, Err: inner}
	assert.Contains(t, plain.Error(), "failed")
	assert.ErrorIs(t, plain, inner)
}

// Классификация по подстроке должна срабатывать и на обёрнутых ошибках:
// текст сохраняется при каждом fmt.Errorf("%w").
func TestErrorSignatures_WrappedProgramError(t *testing.T) {
	sigs := ErrorSignatures{NoRewards: []string{"0x178a"}}

	base := errors.New("custom program error: 0x178a")
	wrapped := fmt.Errorf("collect_rewards: %w", &ProtocolCallError{
		Protocol:  "whirlpool",
		Operation: OperationCollectRewards,
		Signature: "0x178a",
		Err:       base,
	})
	assert.True(t, sigs.IsNoRewards(wrapped))
}
