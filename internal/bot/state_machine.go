package bot

import (
	"fmt"

	"positionbot/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями позиции
var ValidTransitions = map[string][]string{
	models.PositionStatePending:  {models.PositionStateActive, models.PositionStateError},
	models.PositionStateActive:   {models.PositionStateReducing, models.PositionStateClosing, models.PositionStateError},
	models.PositionStateReducing: {models.PositionStateActive, models.PositionStateClosing, models.PositionStateError}, // Closing если остаток стал нулевым
	models.PositionStateClosing:  {models.PositionStateClosed, models.PositionStateError},
	models.PositionStateClosed:   {}, // терминальное
	models.PositionStateError:    {models.PositionStateClosing, models.PositionStateClosed}, // только ручной сброс
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition меняет состояние позиции, возвращает ошибку при недопустимом переходе.
// Вызывается только под блокировкой реестра (через Registry.Update).
func Transition(p *models.Position, to string) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("invalid state transition %s -> %s (position %s)", p.State, to, p.ID)
	}
	p.State = to
	return nil
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.PositionStatePending:
		return "Ордер отправлен, ожидание подтверждения"
	case models.PositionStateActive:
		return "Позиция открыта, мониторится"
	case models.PositionStateReducing:
		return "Частичное закрытие..."
	case models.PositionStateClosing:
		return "Закрытие позиции..."
	case models.PositionStateClosed:
		return "Позиция закрыта"
	case models.PositionStateError:
		return "Ошибка! Требуется вмешательство"
	default:
		return "Неизвестное состояние"
	}
}

// IsOpen возвращает true если позиция ещё держит объём на бирже
func IsOpen(s string) bool {
	return s == models.PositionStateActive || s == models.PositionStateReducing || s == models.PositionStateClosing
}

// IsTerminal возвращает true для состояний, из которых мониторинг не нужен
func IsTerminal(s string) bool {
	return s == models.PositionStateClosed
}
