package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type issueBillingTokenRequest struct {
	IdentityToken string `json:"identityToken" binding:"required"`
}

type contactRequest struct {
	Value string `json:"value" binding:"required"`
}

func (s *Server) IssueBillingToken(c *gin.Context) {
	var req issueBillingTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.IssueBillingToken(c.Request.Context(), strings.TrimSpace(req.IdentityToken))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBilling(c *gin.Context) {
	resp, err := s.paymentSvc.GetBilling(c.Request.Context(), c.Param("identityToken"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateCard(c *gin.Context) {
	resp, err := s.paymentSvc.UpdateCard(c.Request.Context(), c.Param("identityToken"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateContactPhone(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.UpdateContactPhone(c.Request.Context(), c.Param("identityToken"), req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateContactEmail(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.UpdateContactEmail(c.Request.Context(), c.Param("identityToken"), req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
