// =============================
// File: internal/dex/errors.go
// =============================
package dex

import (
	"errors"
	"fmt"
	"strings"
)

// Таксономия ошибок адаптеров. Математические ошибки (tickmath, liquidity)
// никогда не глотаются; ошибки он-чейн вызовов классифицируются по сигнатуре
// и либо переводятся в fallback/no-op, либо пробрасываются с исходным текстом.
var (
	ErrPositionNotFound = errors.New("position not found")
	// ErrAlreadyClosed распознаётся по сигнатуре исполнения и трактуется
	// как идемпотентный успех, не как ошибка.
	ErrAlreadyClosed = errors.New("position already closed")
	// ErrProtocolCallRejected — отклонение комбинированного вызова;
	// запускает fallback-путь там, где он определён.
	ErrProtocolCallRejected = errors.New("protocol call rejected")
)

// ProtocolCallError сохраняет исходную диагностику он-чейн вызова.
type ProtocolCallError struct {
	Protocol  string
	Operation OperationType
	Signature string // сигнатура ошибки (код программы), если распознана
	Err       error
}

func (e *ProtocolCallError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("%s %s rejected (%s): %v", e.Protocol, e.Operation, e.Signature, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Protocol, e.Operation, e.Err)
}

func (e *ProtocolCallError) Unwrap() error {
	return e.Err
}

// ErrorSignatures — протокол-специфичные коды, по которым классифицируются
// ошибки исполнения. Подстрочное сравнение: RPC возвращает коды внутри
// текстов вида "custom program error: 0x...".
type ErrorSignatures struct {
	CombinedRejected []string
	AlreadyClosed    []string
	NoRewards        []string
}

func matchesAny(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range signatures {
		if sig != "" && strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsCombinedCallRejected определяет, отклонён ли комбинированный вызов.
func (s ErrorSignatures) IsCombinedCallRejected(err error) bool {
	return errors.Is(err, ErrProtocolCallRejected) || matchesAny(err, s.CombinedRejected)
}

// IsAlreadyClosed определяет сигнатуру "уже закрыта / не существует".
func (s ErrorSignatures) IsAlreadyClosed(err error) bool {
	return errors.Is(err, ErrAlreadyClosed) || matchesAny(err, s.AlreadyClosed)
}

// IsNoRewards определяет сигнатуру "нечего собирать".
func (s ErrorSignatures) IsNoRewards(err error) bool {
	return matchesAny(err, s.NoRewards)
}
