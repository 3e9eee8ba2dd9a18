package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
)

// gatewayEventRequest accepts both the JSON and the form-encoded notification
// bodies the gateway sends.
type gatewayEventRequest struct {
	TransactionID string `json:"imp_uid" form:"imp_uid"`
	PaymentToken  string `json:"merchant_uid" form:"merchant_uid"`
	Status        string `json:"status" form:"status"`
}

func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	var req gatewayEventRequest
	if err := c.ShouldBind(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.reconciler.ApplyGatewayEvent(c.Request.Context(), paymentdomain.GatewayEvent{
		Status:        req.Status,
		TransactionID: req.TransactionID,
		PaymentToken:  req.PaymentToken,
	})
	if err != nil {
		// terminal outcomes are acknowledged so the gateway stops redelivering
		switch {
		case errors.Is(err, paymentdomain.ErrPaymentFailed):
			c.JSON(http.StatusOK, gin.H{"outcome": paymentdomain.ErrPaymentFailed.Error()})
			return
		case errors.Is(err, paymentdomain.ErrManualRefundRequired):
			c.JSON(http.StatusOK, gin.H{"outcome": paymentdomain.ErrManualRefundRequired.Error()})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": "applied", "data": resp})
}
