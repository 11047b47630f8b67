package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/intent"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"version": APIVersion,
		"status":  "operational",
		"chain":   s.chain.Name,
		"health":  "/health",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   APIVersion,
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"stats": gin.H{
			"aliases":      s.registry.Count(),
			"transactions": s.ledger.Count(),
		},
	})
}

type registerAliasRequest struct {
	Alias     string `json:"alias" binding:"required"`
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) handleRegisterAlias(c *gin.Context) {
	var req registerAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, safepay.NewError(safepay.ErrCodeInvalidIntent, "alias, address and signature are required", err))
		return
	}

	record, err := s.registry.Register(req.Alias, req.Address, req.Signature)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"alias":         record.Alias,
		"address":       record.Address,
		"registered_at": record.RegisteredAt.Format(time.RFC3339),
	})
}

func (s *Server) handleResolveAlias(c *gin.Context) {
	addr, err := s.registry.Resolve(c.Param("alias"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alias": c.Param("alias"), "address": addr})
}

func (s *Server) handleReverseResolve(c *gin.Context) {
	alias, err := s.registry.ReverseResolve(c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "alias": alias})
}

func (s *Server) handleDeleteAlias(c *gin.Context) {
	requester := c.GetHeader(walletHeader)
	if requester == "" {
		s.writeError(c, safepay.NewError(safepay.ErrCodeInvalidAddress, walletHeader+" header is required", safepay.ErrInvalidAddress))
		return
	}

	if err := s.registry.Delete(c.Param("alias"), requester); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSearchAliases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	results, err := s.registry.Search(c.Query("query"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

type processCommandRequest struct {
	Text     string `json:"text" binding:"required,min=1,max=500"`
	UserID   string `json:"user_id"`
	Timezone string `json:"timezone"`
}

func (s *Server) handleProcessCommand(c *gin.Context) {
	var req processCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, safepay.NewError(safepay.ErrCodeInvalidIntent, "text is required (1-500 characters)", err))
		return
	}

	parsed, err := s.parser.Parse(c.Request.Context(), req.Text, req.UserID, req.Timezone)
	if err != nil {
		s.writeError(c, safepay.NewError(safepay.ErrCodeParserUnavailable, "intent parser unavailable", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent":            parsed,
		"confirmation_text": intent.Confirmation(parsed),
	})
}

type executePaymentRequest struct {
	IntentID      string                `json:"intent_id" binding:"required"`
	PaymentIntent safepay.PaymentIntent `json:"payment_intent" binding:"required"`
	FromAddress   string                `json:"from_address" binding:"required"`
	Signature     string                `json:"signature" binding:"required"`
}

func (s *Server) handleExecutePayment(c *gin.Context) {
	var req executePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, safepay.NewError(safepay.ErrCodeInvalidIntent,
			"intent_id, payment_intent, from_address and signature are required", err))
		return
	}

	authenticated := c.GetHeader(walletHeader)
	if authenticated == "" {
		s.writeError(c, safepay.NewError(safepay.ErrCodeAddressMismatch, walletHeader+" header is required", safepay.ErrAddressMismatch))
		return
	}

	result, err := s.dispatcher.Execute(c.Request.Context(), safepay.AuthorizationRequest{
		IntentID:    req.IntentID,
		FromAddress: req.FromAddress,
		Signature:   req.Signature,
	}, req.PaymentIntent, authenticated)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := s.ledger.History(c.Param("address"), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleTransaction(c *gin.Context) {
	tx, err := s.ledger.GetByHash(c.Param("hash"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	subs, err := s.dispatcher.ListSubscriptions(c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

func (s *Server) handleCancelSubscription(c *gin.Context) {
	requester := c.GetHeader(walletHeader)
	if requester == "" {
		s.writeError(c, safepay.NewError(safepay.ErrCodeInvalidAddress, walletHeader+" header is required", safepay.ErrInvalidAddress))
		return
	}

	sub, err := s.dispatcher.CancelSubscription(c.Param("id"), requester)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
