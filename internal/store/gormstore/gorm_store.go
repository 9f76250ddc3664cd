// Package gormstore 用 Gorm + SQLite 持久化订单、成交与资金曲线。
// 它作为引擎的 OrderListener/EquityListener 挂载，引擎本身保持纯内存。
package gormstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marlin/internal/logger"
	"marlin/internal/portfolio"
	storemodel "marlin/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.OrderModel{},
		&storemodel.TradeModel{},
		&storemodel.EquityModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：写入串行，读允许少量并发给 HTTP 查询用。
	sqlDB.SetMaxOpenConns(4)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OnOrderPlaced 挂单阶段不落库，等终态。
func (s *GormStore) OnOrderPlaced(o *portfolio.Order) {}

func (s *GormStore) OnOrderFilled(o *portfolio.Order, trade portfolio.Trade) {
	s.saveOrder(o)
	rec := storemodel.TradeModel{
		TradeID:    trade.ID,
		OrderID:    trade.OrderID,
		Symbol:     trade.Symbol,
		Side:       string(trade.Side),
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		Commission: trade.Commission,
		PnL:        trade.PnL,
		ExecutedAt: trade.ExecutedAt.UnixMilli(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Errorf("persisting trade %s failed: %v", trade.ID, err)
	}
}

func (s *GormStore) OnOrderCancelled(o *portfolio.Order) { s.saveOrder(o) }
func (s *GormStore) OnOrderRejected(o *portfolio.Order)  { s.saveOrder(o) }

func (s *GormStore) OnEquityPoint(p portfolio.EquityPoint) {
	rec := storemodel.EquityModel{Timestamp: p.Timestamp.UnixMilli(), Equity: p.Equity}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Errorf("persisting equity point failed: %v", err)
	}
}

func (s *GormStore) saveOrder(o *portfolio.Order) {
	raw, _ := json.Marshal(o)
	rec := storemodel.OrderModel{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Quantity:  o.Quantity,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Status:    string(o.Status),
		Reason:    o.Reason,
		FillPrice: o.FillPrice,
		CreatedAt: o.CreatedAt.UnixMilli(),
		Raw:       datatypes.JSON(raw),
	}
	if !o.FilledAt.IsZero() {
		rec.FilledAt = o.FilledAt.UnixMilli()
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Errorf("persisting order %s failed: %v", o.ID, err)
	}
}

// Orders 按时间倒序返回最近 limit 条订单记录。
func (s *GormStore) Orders(limit int) ([]storemodel.OrderModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []storemodel.OrderModel
	err := s.db.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Trades 按时间倒序返回最近 limit 条成交。
func (s *GormStore) Trades(limit int) ([]storemodel.TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []storemodel.TradeModel
	err := s.db.Order("executed_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// EquityHistory 按时间正序返回资金曲线。
func (s *GormStore) EquityHistory(limit int) ([]storemodel.EquityModel, error) {
	if limit <= 0 {
		limit = 10000
	}
	var out []storemodel.EquityModel
	err := s.db.Order("timestamp ASC").Limit(limit).Find(&out).Error
	return out, err
}
