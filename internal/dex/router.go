// =============================
// File: internal/dex/router.go
// =============================
package dex

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

// ClassifierFunc относит идентификатор/метаданные пула к протоколу.
// Пустой результат означает "не распознано". Классификация вынесена в
// инжектируемую функцию, чтобы новые протоколы добавлялись без правки
// мест вызова.
type ClassifierFunc func(poolIDOrMeta string) types.Protocol

// DefaultClassifier распознаёт протокол по явному имени или по известным
// префиксам program ID. Распознавание по подстрокам — best effort.
func DefaultClassifier(poolIDOrMeta string) types.Protocol {
	s := strings.ToLower(strings.TrimSpace(poolIDOrMeta))
	switch {
	case strings.Contains(s, "raydium"), strings.Contains(s, "camm"):
		return types.ProtocolRaydium
	case strings.Contains(s, "whirlpool"), strings.Contains(s, "orca"), strings.HasPrefix(s, "whir"):
		return types.ProtocolWhirlpool
	default:
		return ""
	}
}

// Router выбирает адаптер по идентификатору пула. Нераспознанные
// идентификаторы намеренно направляются в стандартный адаптер: лучше
// рабочий, пусть и неидеальный путь, чем отказ.
type Router struct {
	adapters map[types.Protocol]Adapter
	standard Adapter
	classify ClassifierFunc
	logger   *zap.Logger
}

// NewRouter создаёт роутер. standard используется как адаптер по умолчанию.
func NewRouter(standard Adapter, classify ClassifierFunc, logger *zap.Logger) (*Router, error) {
	if standard == nil {
		return nil, fmt.Errorf("standard adapter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if classify == nil {
		classify = DefaultClassifier
	}
	r := &Router{
		adapters: make(map[types.Protocol]Adapter),
		standard: standard,
		classify: classify,
		logger:   logger.Named("protocol-router"),
	}
	r.adapters[standard.Protocol()] = standard
	return r, nil
}

// Register добавляет адаптер протокола.
func (r *Router) Register(adapter Adapter) {
	r.adapters[adapter.Protocol()] = adapter
}

// Adapters возвращает все зарегистрированные адаптеры (для агрегатора).
func (r *Router) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// SelectAdapter выбирает адаптер по идентификатору или метаданным пула.
func (r *Router) SelectAdapter(poolIDOrMeta string) Adapter {
	protocol := r.classify(poolIDOrMeta)
	if adapter, ok := r.adapters[protocol]; ok {
		return adapter
	}
	r.logger.Debug("unrecognized pool identifier, defaulting to standard adapter",
		zap.String("pool", poolIDOrMeta),
		zap.String("standard", r.standard.Name()))
	return r.standard
}
