package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/middleware"
)

// HeaderVerify — заголовок с подписью callback.
const HeaderVerify = "X-VERIFY"

// maxCallbackBody — callback шлюза занимает несколько сотен байт.
const maxCallbackBody = 64 << 10

// PaymentHandler — платёжные маршруты.
type PaymentHandler struct {
	sessions  SessionCreator
	callbacks CallbackProcessor
	status    StatusReader
}

// NewPaymentHandler создаёт обработчик платёжных маршрутов.
func NewPaymentHandler(sessions SessionCreator, callbacks CallbackProcessor, status StatusReader) *PaymentHandler {
	return &PaymentHandler{sessions: sessions, callbacks: callbacks, status: status}
}

// CreateSession создаёт платёжную сессию.
// POST /api/v1/payment/create-session
func (h *PaymentHandler) CreateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sum, err := h.sessions.CreateSession(c.Request.Context(), userID, req.toService())
	if err != nil {
		HandleError(c, err, "CreateSession")
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(sum))
}

// Callback принимает webhook шлюза. Аутентификация — подпись X-VERIFY.
// Любой принятый callback, включая дубликаты, получает 200.
// POST /api/v1/payment/gateway/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.callbacks.HandleCallback(c.Request.Context(), body, c.GetHeader(HeaderVerify))
	if err != nil {
		HandleError(c, err, "Callback")
		return
	}

	c.JSON(http.StatusOK, CallbackResponse{Success: true, Status: string(res.Status)})
}

// Status отдаёт состояние сессии владельцу.
// GET /api/v1/payment/status/:transactionId
func (h *PaymentHandler) Status(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	v, err := h.status.Poll(c.Request.Context(), c.Param("transactionId"), userID)
	if err != nil {
		HandleError(c, err, "Status")
		return
	}

	c.JSON(http.StatusOK, statusResponse(v))
}

// MockHandler — платёжная страница mock шлюза. Подключается только в
// development: оплата завершается запросом, а callback доставляется сразу
// в CallbackProcessor, как это сделал бы шлюз.
type MockHandler struct {
	gw        MockPayments
	callbacks CallbackProcessor
}

// NewMockHandler создаёт обработчик mock страницы оплаты.
func NewMockHandler(gw MockPayments, callbacks CallbackProcessor) *MockHandler {
	return &MockHandler{gw: gw, callbacks: callbacks}
}

// Page показывает состояние транзакции в mock шлюзе.
// GET /api/v1/payment/mock/:transactionId
func (h *MockHandler) Page(c *gin.Context) {
	txn := c.Param("transactionId")
	st, err := h.gw.CheckStatus(c.Request.Context(), txn)
	if err != nil {
		HandleError(c, err, "MockPage")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactionId": txn,
		"state":         st.State,
		"amount":        st.Amount,
		"completeUrl":   c.Request.URL.Path + "/complete?success=true",
	})
}

// Complete завершает оплату и доставляет подписанный callback.
// POST /api/v1/payment/mock/:transactionId/complete?success=true|false
func (h *MockHandler) Complete(c *gin.Context) {
	ctx := c.Request.Context()
	txn := c.Param("transactionId")

	success, err := strconv.ParseBool(c.DefaultQuery("success", "true"))
	if err != nil {
		badRequest(c, err)
		return
	}

	cb, err := h.gw.Complete(ctx, txn, success)
	if err != nil {
		HandleError(c, err, "MockComplete")
		return
	}

	res, err := h.callbacks.HandleCallback(ctx, cb.Body, cb.Digest)
	if err != nil {
		HandleError(c, err, "MockComplete")
		return
	}

	logger.Ctx(ctx).Info().
		Str("transaction_id", txn).
		Bool("success", success).
		Msg("Mock оплата завершена")
	c.JSON(http.StatusOK, CallbackResponse{Success: true, Status: string(res.Status)})
}

// requireUser достаёт id пользователя из AuthMiddleware.
func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Требуется авторизация"})
		return "", false
	}
	return userID, true
}

func badRequest(c *gin.Context, err error) {
	logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидные данные запроса"})
}
