package httpapi

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"

	"marlin/internal/engine"
	"marlin/internal/portfolio"
	"marlin/internal/report"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

type handlers struct {
	cfg ServerConfig
}

func (h *handlers) withEngine(fn func(e *engine.Engine)) {
	h.cfg.EngineMu.Lock()
	defer h.cfg.EngineMu.Unlock()
	fn(h.cfg.Engine)
}

func (h *handlers) status(c *gin.Context) {
	var resp gin.H
	h.withEngine(func(e *engine.Engine) {
		resp = gin.H{
			"mode":            h.cfg.Mode,
			"emergency_stop":  e.EmergencyStopped(),
			"portfolio_value": e.PortfolioValue(),
			"cash":            e.Portfolio().Cash,
			"positions":       len(e.Portfolio().Positions),
			"pending_orders":  len(e.Portfolio().PendingOrders),
		}
	})
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) portfolio(c *gin.Context) {
	var resp gin.H
	h.withEngine(func(e *engine.Engine) {
		pf := e.Portfolio()
		positions := make([]gin.H, 0, len(pf.Positions))
		for _, pos := range pf.Positions {
			price, _ := e.LastPrice(pos.Symbol)
			positions = append(positions, gin.H{
				"symbol":         pos.Symbol,
				"quantity":       pos.Quantity,
				"avg_price":      pos.AvgPrice,
				"last_price":     price,
				"unrealized_pnl": e.UnrealizedPnL(pos.Symbol),
			})
		}
		resp = gin.H{
			"cash":           pf.Cash,
			"initial_cash":   pf.InitialCash,
			"total_value":    e.PortfolioValue(),
			"positions":      positions,
			"pending_orders": pf.PendingOrders,
		}
	})
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) orders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if h.cfg.Store != nil {
		recs, err := h.cfg.Store.Orders(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": recs})
		return
	}
	var out []*portfolio.Order
	h.withEngine(func(e *engine.Engine) {
		hist := e.Portfolio().OrderHistory
		if limit > 0 && len(hist) > limit {
			hist = hist[len(hist)-limit:]
		}
		out = append(out, hist...)
	})
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *handlers) trades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if h.cfg.Store != nil {
		recs, err := h.cfg.Store.Trades(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": recs})
		return
	}
	var out []portfolio.Trade
	h.withEngine(func(e *engine.Engine) {
		hist := e.Portfolio().TradeHistory
		if limit > 0 && len(hist) > limit {
			hist = hist[len(hist)-limit:]
		}
		out = append(out, hist...)
	})
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (h *handlers) metrics(c *gin.Context) {
	var m engine.PerformanceMetrics
	h.withEngine(func(e *engine.Engine) {
		m = e.Metrics()
	})
	c.JSON(http.StatusOK, m)
}

func (h *handlers) sessions(c *gin.Context) {
	if h.cfg.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session archive not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.cfg.Runs.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *handlers) session(c *gin.Context) {
	if h.cfg.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session archive not enabled"})
		return
	}
	sess, err := h.cfg.Runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *handlers) reportHTML(c *gin.Context) {
	var (
		html []byte
		err  error
	)
	h.withEngine(func(e *engine.Engine) {
		html, err = report.RenderHTML(e.Portfolio().EquityHistory, e.Metrics())
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (h *handlers) reportPNG(c *gin.Context) {
	var (
		points  []portfolio.EquityPoint
		metrics engine.PerformanceMetrics
	)
	h.withEngine(func(e *engine.Engine) {
		points = append(points, e.Portfolio().EquityHistory...)
		metrics = e.Metrics()
	})
	png, err := report.RenderPNG(c.Request.Context(), points, metrics)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// placeOrder 接受松散 JSON（外部来源字段类型不可信），用 gjson 容错
// 提取后走常规下单链。
func (h *handlers) placeOrder(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req := engine.OrderRequest{
		Symbol:    gjson.GetBytes(body, "symbol").String(),
		Side:      portfolio.Side(gjson.GetBytes(body, "side").String()),
		Type:      portfolio.OrderType(gjson.GetBytes(body, "type").String()),
		Quantity:  gjson.GetBytes(body, "quantity").Float(),
		Price:     gjson.GetBytes(body, "price").Float(),
		StopPrice: gjson.GetBytes(body, "stop_price").Float(),
		StopLoss:  gjson.GetBytes(body, "stop_loss").Float(),
	}
	if req.Type == "" {
		req.Type = portfolio.OrderTypeMarket
	}

	var (
		order    *portfolio.Order
		placeErr error
	)
	h.withEngine(func(e *engine.Engine) {
		order, placeErr = e.PlaceOrder(req)
	})
	if placeErr != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"order": order, "error": placeErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *handlers) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	var err error
	h.withEngine(func(e *engine.Engine) {
		err = e.CancelOrder(id)
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"cancelled": id})
	case errors.Is(err, engine.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}
