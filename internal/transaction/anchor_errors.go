// internal/transaction/anchor_errors.go
package transaction

import (
	"fmt"
	"strings"
)

// anchorError — расшифрованная запись "AnchorError occurred" из логов
// программы. Пример строки:
//
//	Program log: AnchorError occurred. Error Code: InvalidInstructionSequence.
//	Error Number: 6000. Error Message: Combined call is not supported.
type anchorError struct {
	Name string
	Code int
	Msg  string
}

// hexCode возвращает код в том виде, в каком его печатает рантайм
// ("custom program error: 0x1770") — адаптеры классифицируют отказ по
// этой подстроке.
func (e anchorError) hexCode() string {
	return fmt.Sprintf("0x%x", e.Code)
}

func fieldAfter(log, marker string) string {
	_, rest, ok := strings.Cut(log, marker)
	if !ok {
		return ""
	}
	value, _, _ := strings.Cut(rest, ".")
	return strings.TrimSpace(value)
}

// parseAnchorLogs ищет в логах программы первую запись AnchorError.
func parseAnchorLogs(logs []string) (anchorError, bool) {
	for _, log := range logs {
		if !strings.Contains(log, "AnchorError occurred") {
			continue
		}
		out := anchorError{
			Name: fieldAfter(log, "Error Code:"),
			Msg:  fieldAfter(log, "Error Message:"),
		}
		if num := fieldAfter(log, "Error Number:"); num != "" {
			fmt.Sscanf(num, "%d", &out.Code)
		}
		return out, true
	}
	return anchorError{}, false
}
