package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paymentsvc/internal/payment/domain"
	"github.com/smallbiznis/paymentsvc/pkg/db/pagination"
)

type chargeRequest struct {
	IdentityToken string `json:"identityToken"`
	DomainToken   string `json:"domainToken"`
	PaymentName   string `json:"paymentName"`
	Amount        int64  `json:"amount"`
}

type scheduleRequest struct {
	chargeRequest
	// ScheduleAt is a unix timestamp in seconds.
	ScheduleAt int64 `json:"scheduleAt"`
}

type refundRequest struct {
	PaymentID    string `json:"paymentId"`
	DomainToken  string `json:"domainToken"`
	RefundAmount int64  `json:"refundAmount"`
	Reason       string `json:"reason"`
}

func (s *Server) ChargeNow(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.ChargeNow(c.Request.Context(), paymentdomain.ChargeNowRequest{
		IdentityToken: strings.TrimSpace(req.IdentityToken),
		DomainToken:   strings.TrimSpace(req.DomainToken),
		PaymentName:   strings.TrimSpace(req.PaymentName),
		Amount:        req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ScheduleCharge(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ScheduleAt <= 0 {
		AbortWithError(c, paymentdomain.ErrInvalidScheduleTime)
		return
	}

	resp, err := s.paymentSvc.ScheduleCharge(c.Request.Context(), paymentdomain.ScheduleChargeRequest{
		IdentityToken: strings.TrimSpace(req.IdentityToken),
		DomainToken:   strings.TrimSpace(req.DomainToken),
		PaymentName:   strings.TrimSpace(req.PaymentName),
		Amount:        req.Amount,
		ScheduleAt:    time.Unix(req.ScheduleAt, 0).UTC(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundCommand{
		PaymentID:    strings.TrimSpace(req.PaymentID),
		DomainToken:  strings.TrimSpace(req.DomainToken),
		RefundAmount: req.RefundAmount,
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSchedule(c *gin.Context) {
	resp, err := s.paymentSvc.CancelSchedule(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayment(c *gin.Context) {
	resp, err := s.paymentSvc.GetPayment(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		DomainToken string `form:"domainToken"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.ListPayments(c.Request.Context(), paymentdomain.ListPaymentsRequest{
		DomainToken: strings.TrimSpace(query.DomainToken),
		Pagination:  query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}
