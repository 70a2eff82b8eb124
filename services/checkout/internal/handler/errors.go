package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
)

// ErrorResponse — формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError переводит доменную ошибку в HTTP ответ. Внутренние детали
// клиенту не отдаются, они остаются в логе.
func HandleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	if err == nil {
		log.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
		return
	}

	var (
		validation *domain.ValidationError
		stock      *domain.InsufficientStockError
		initiation *domain.InitiationError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: validation.Error()})
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrProductUnavailable):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "product_unavailable", Message: err.Error()})
	case errors.As(err, &stock):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "insufficient_stock", Message: stock.Error()})
	case errors.Is(err, domain.ErrAuthentication), errors.Is(err, domain.ErrCallbackDecode):
		// Шлюзу не сообщаем, что именно не сошлось.
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_callback", Message: "Callback отклонён"})
	case errors.Is(err, domain.ErrSessionNotPaid):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "session_not_paid", Message: err.Error()})
	case errors.As(err, &initiation):
		log.Warn().Err(err).Str("method", method).Msg("Шлюз отклонил оплату")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment_initiation_failed", Message: "Платёжный шлюз отклонил оплату, попробуйте ещё раз"})
	case domain.IsTransport(err):
		log.Warn().Err(err).Str("method", method).Msg("Платёжный шлюз недоступен")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "gateway_unavailable", Message: "Платёжный шлюз недоступен, попробуйте позже"})
	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
	}
}
