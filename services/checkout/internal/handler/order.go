package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OrderHandler — маршруты заказов.
type OrderHandler struct {
	cod    CODPlacer
	orders OrderGetter
}

// NewOrderHandler создаёт обработчик заказов.
func NewOrderHandler(cod CODPlacer, orders OrderGetter) *OrderHandler {
	return &OrderHandler{cod: cod, orders: orders}
}

// PlaceCOD оформляет заказ с оплатой при получении.
// POST /api/v1/orders/cod
func (h *OrderHandler) PlaceCOD(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.cod.PlaceOrder(c.Request.Context(), userID, req.toService())
	if err != nil {
		HandleError(c, err, "PlaceCOD")
		return
	}

	c.JSON(http.StatusCreated, orderResponse(order))
}

// GetOrder отдаёт заказ владельцу.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, orderResponse(order))
}
