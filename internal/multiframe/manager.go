// Package multiframe 将基础周期 K 线流路由到多个更大周期的聚合状态机。
package multiframe

import (
	"errors"
	"fmt"

	"marlin/internal/market"
	"marlin/internal/timeframe"
)

var (
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrDuplicateTimeframe   = errors.New("timeframe already registered")
	ErrUnknownTimeframe     = errors.New("timeframe not registered")
	ErrUnknownSubscriber    = errors.New("subscriber not registered")
)

// supported 是允许注册的固定周期集合。
var supported = map[string]struct{}{
	"1m": {}, "5m": {}, "15m": {}, "30m": {}, "1h": {}, "4h": {}, "1d": {},
}

// CandleFunc 在某周期产生一根完整 K 线后被调用。
type CandleFunc func(c market.Candle, tfName string)

// SyncFunc 在订阅的全部周期都各自前进至少一次后被调用，
// 参数是各周期最新 K 线的快照。
type SyncFunc func(latest map[string]market.Candle)

// state 持有单个高周期的聚合进度，创建后不跨周期共享。
type state struct {
	tf      timeframe.Timeframe
	open    market.Candle
	hasOpen bool
	last    market.Candle
	hasLast bool
}

type subscriber struct {
	id         string
	timeframes map[string]struct{}
	onCandle   CandleFunc
	onSync     SyncFunc
	advanced   map[string]struct{}
}

func (s *subscriber) ready() bool {
	if s.onSync == nil || len(s.timeframes) == 0 {
		return false
	}
	for name := range s.timeframes {
		if _, ok := s.advanced[name]; !ok {
			return false
		}
	}
	return true
}

// Manager 按注册顺序同步分发，内部无并发；调用方必须串行投递
// 时间戳单调不减的基础周期 K 线。
type Manager struct {
	baseName string
	base     timeframe.Timeframe

	states     map[string]*state
	stateOrder []string

	subs     map[string]*subscriber
	subOrder []string

	lastRaw market.Candle
	hasRaw  bool
}

// New 创建以 baseName 为基础周期的管理器。
func New(baseName string) (*Manager, error) {
	if _, ok := supported[baseName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTimeframe, baseName)
	}
	base, err := timeframe.Parse(baseName)
	if err != nil {
		return nil, err
	}
	return &Manager{
		baseName: baseName,
		base:     base,
		states:   make(map[string]*state),
		subs:     make(map[string]*subscriber),
	}, nil
}

func (m *Manager) BaseTimeframe() string { return m.baseName }

// AddTimeframe 注册一个要聚合的更大周期。
func (m *Manager) AddTimeframe(name string) error {
	if _, ok := supported[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedTimeframe, name)
	}
	if name == m.baseName {
		return fmt.Errorf("%w: %s is the base timeframe", ErrDuplicateTimeframe, name)
	}
	if _, ok := m.states[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTimeframe, name)
	}
	tf, err := timeframe.Parse(name)
	if err != nil {
		return err
	}
	if !timeframe.CanConvert(m.base, tf) {
		return fmt.Errorf("%w: %s cannot be aggregated from %s", ErrUnsupportedTimeframe, name, m.baseName)
	}
	m.states[name] = &state{tf: tf}
	m.stateOrder = append(m.stateOrder, name)
	return nil
}

// Timeframes 返回基础周期加已注册周期（注册顺序）。
func (m *Manager) Timeframes() []string {
	out := make([]string, 0, len(m.stateOrder)+1)
	out = append(out, m.baseName)
	out = append(out, m.stateOrder...)
	return out
}

// Subscribe 以 id 订阅一组周期的完整 K 线回调。重复调用会并入已有订阅。
func (m *Manager) Subscribe(id string, names []string, fn CandleFunc) error {
	for _, name := range names {
		if !m.registered(name) {
			return fmt.Errorf("%w: %s", ErrUnknownTimeframe, name)
		}
	}
	sub, ok := m.subs[id]
	if !ok {
		sub = &subscriber{
			id:         id,
			timeframes: make(map[string]struct{}),
			advanced:   make(map[string]struct{}),
		}
		m.subs[id] = sub
		m.subOrder = append(m.subOrder, id)
	}
	sub.onCandle = fn
	for _, name := range names {
		sub.timeframes[name] = struct{}{}
	}
	return nil
}

// SubscribeSync 注册多周期同步回调，要求 id 已通过 Subscribe 注册。
func (m *Manager) SubscribeSync(id string, fn SyncFunc) error {
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
	}
	sub.onSync = fn
	return nil
}

// Unsubscribe 移除 id 的部分或全部订阅；不带周期参数时整体移除。
func (m *Manager) Unsubscribe(id string, names ...string) {
	sub, ok := m.subs[id]
	if !ok {
		return
	}
	if len(names) == 0 {
		delete(m.subs, id)
		m.removeSubOrder(id)
		return
	}
	for _, name := range names {
		delete(sub.timeframes, name)
		delete(sub.advanced, name)
	}
	if len(sub.timeframes) == 0 {
		delete(m.subs, id)
		m.removeSubOrder(id)
	}
}

func (m *Manager) removeSubOrder(id string) {
	for i, v := range m.subOrder {
		if v == id {
			m.subOrder = append(m.subOrder[:i], m.subOrder[i+1:]...)
			return
		}
	}
}

func (m *Manager) registered(name string) bool {
	if name == m.baseName {
		return true
	}
	_, ok := m.states[name]
	return ok
}

// ProcessCandle 处理一根基础周期 K 线：先分发给基础周期订阅者，
// 再折叠进每个高周期聚合；某高周期换期时，上一根聚合 K 线定稿并分发。
// 校验失败只丢弃这一根，不影响任何进行中的聚合。
func (m *Manager) ProcessCandle(c market.Candle) error {
	if err := market.Validate(c); err != nil {
		return err
	}
	m.lastRaw = c
	m.hasRaw = true
	m.dispatch(c, m.baseName)

	for _, name := range m.stateOrder {
		st := m.states[name]
		periodStart := timeframe.AlignToPeriod(c.OpenTime, st.tf.Minutes)
		if st.hasOpen && periodStart != st.open.OpenTime {
			st.last = st.open
			st.hasLast = true
			st.hasOpen = false
			m.dispatch(st.last, name)
		}
		if !st.hasOpen {
			st.open = market.Candle{
				OpenTime: periodStart,
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			st.hasOpen = true
			continue
		}
		if c.High > st.open.High {
			st.open.High = c.High
		}
		if c.Low < st.open.Low {
			st.open.Low = c.Low
		}
		st.open.Close = c.Close
		st.open.Volume += c.Volume
	}

	m.fireSync()
	return nil
}

// dispatch 将一根完整 K 线按注册顺序推给该周期的订阅者。
func (m *Manager) dispatch(c market.Candle, tfName string) {
	for _, id := range m.subOrder {
		sub := m.subs[id]
		if _, ok := sub.timeframes[tfName]; !ok {
			continue
		}
		sub.advanced[tfName] = struct{}{}
		if sub.onCandle != nil {
			sub.onCandle(c, tfName)
		}
	}
}

// fireSync 对所有周期都已前进的订阅者触发一次同步回调。
// 单根基础 K 线最多触发一次，即使同一拍完成了多个周期。
func (m *Manager) fireSync() {
	for _, id := range m.subOrder {
		sub := m.subs[id]
		if !sub.ready() {
			continue
		}
		snapshot := make(map[string]market.Candle, len(sub.timeframes))
		for name := range sub.timeframes {
			if c, ok := m.latest(name); ok {
				snapshot[name] = c
			}
		}
		sub.advanced = make(map[string]struct{})
		sub.onSync(snapshot)
	}
}

func (m *Manager) latest(name string) (market.Candle, bool) {
	if name == m.baseName {
		return m.lastRaw, m.hasRaw
	}
	st, ok := m.states[name]
	if !ok {
		return market.Candle{}, false
	}
	if st.hasLast {
		return st.last, true
	}
	if st.hasOpen {
		return st.open, true
	}
	return market.Candle{}, false
}

// LatestCandles 返回每个已注册周期的最新 K 线：基础周期为最近一根原始
// K 线，高周期为最近定稿的聚合（尚无定稿时退回进行中的那根）。
func (m *Manager) LatestCandles() map[string]market.Candle {
	out := make(map[string]market.Candle, len(m.stateOrder)+1)
	for _, name := range m.Timeframes() {
		if c, ok := m.latest(name); ok {
			out[name] = c
		}
	}
	return out
}
