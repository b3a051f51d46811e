package pool

import (
	"math/rand"
	"sync/atomic"

	"tg-greeter/internal/ports"
)

// RandomStrategy выбирает кандидата равновероятно.
type RandomStrategy struct{}

// NewRandomStrategy создает новую стратегию случайного выбора.
func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{}
}

// Next возвращает случайного кандидата из списка.
func (s *RandomStrategy) Next(sessions []ports.Session) (ports.Session, error) {
	if len(sessions) == 0 {
		return nil, ErrNoCandidates
	}
	return sessions[rand.Intn(len(sessions))], nil
}

// RoundRobinStrategy реализует стратегию выбора "по кругу" (Round Robin).
type RoundRobinStrategy struct {
	// currentIndex хранит индекс последнего выбранного кандидата.
	// Используется atomic для потокобезопасного инкремента.
	currentIndex uint32
}

// NewRoundRobinStrategy создает новую Round Robin стратегию.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{}
}

// Next возвращает следующего кандидата в списке, инкрементируя индекс по кругу.
func (s *RoundRobinStrategy) Next(sessions []ports.Session) (ports.Session, error) {
	if len(sessions) == 0 {
		return nil, ErrNoCandidates
	}
	// Атомарно увеличиваем счетчик и получаем индекс.
	// Вычитаем 1, чтобы получить текущий индекс до увеличения.
	idx := atomic.AddUint32(&s.currentIndex, 1) - 1
	return sessions[idx%uint32(len(sessions))], nil
}

// StrategyByName возвращает стратегию по имени из конфигурации.
func StrategyByName(name string) ports.Strategy {
	if name == "round_robin" {
		return NewRoundRobinStrategy()
	}
	return NewRandomStrategy()
}
