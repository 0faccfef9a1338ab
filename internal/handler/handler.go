package handler

import (
	"errors"
	"net/http"
	"strconv"

	"walletledger/internal/model"
	"walletledger/internal/repository"
	"walletledger/internal/service"
	"walletledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler 账本 HTTP 接口
type Handler struct {
	ledger *service.LedgerService
	log    *logrus.Logger
}

func NewHandler(ledger *service.LedgerService, log *logrus.Logger) *Handler {
	return &Handler{ledger: ledger, log: log}
}

// ============================================================
// 用户接口
// ============================================================

// GetMyWallet 当前用户钱包
// GET /api/v1/transactions/wallet
func (h *Handler) GetMyWallet(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	wallet, err := h.ledger.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, wallet)
}

// ListMyTransactions 当前用户流水
// GET /api/v1/transactions/my-transactions?page=1&limit=10
func (h *Handler) ListMyTransactions(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	page, limit := pageParams(c)
	result, err := h.ledger.ListTransactions(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// WithdrawRequest 提现请求，amount 可以是数字或字符串
type WithdrawRequest struct {
	Amount         decimal.Decimal      `json:"amount"`
	PaymentMethod  string               `json:"payment_method" binding:"required"`
	PaymentDetails model.PaymentDetails `json:"payment_details"`
	Notes          string               `json:"notes"`
}

// RequestWithdraw 发起提现
// POST /api/v1/transactions/withdraw
func (h *Handler) RequestWithdraw(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.ledger.RequestWithdraw(c.Request.Context(), userID, service.WithdrawRequest{
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// ============================================================
// 管理端接口（super_admin）
// ============================================================

// ListTransactions 全部流水
// GET /api/v1/transactions?type=withdraw&status=pending&page=1&limit=10
func (h *Handler) ListTransactions(c *gin.Context) {
	page, limit := pageParams(c)
	result, err := h.ledger.ListAll(c.Request.Context(), repository.TransactionFilter{
		Type:   c.Query("type"),
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// GetStats 资金汇总
// GET /api/v1/transactions/stats
func (h *Handler) GetStats(c *gin.Context) {
	summary, err := h.ledger.GetFinancialSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, summary)
}

type IncomeRequest struct {
	UserID           string          `json:"user_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
	CampaignID       string          `json:"campaign_id"`
	Description      string          `json:"description"`
	PaymentReference string          `json:"payment_reference"`
	Notes            string          `json:"notes"`
}

// RecordIncome 入账
// POST /api/v1/transactions/income
func (h *Handler) RecordIncome(c *gin.Context) {
	var req IncomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.ledger.RecordIncome(c.Request.Context(), req.UserID, req.Amount, service.IncomeMeta{
		CampaignID:       req.CampaignID,
		Description:      req.Description,
		PaymentReference: req.PaymentReference,
		Notes:            req.Notes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type ProcessWithdrawRequest struct {
	Status string `json:"status" binding:"required"`
}

// ProcessWithdraw 人工结算提现
// PATCH /api/v1/transactions/:no/process
func (h *Handler) ProcessWithdraw(c *gin.Context) {
	var req ProcessWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.ledger.ResolveWithdraw(c.Request.Context(), c.Param("no"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type CreateWalletRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CreateWallet 开户，已存在时返回现有钱包
// POST /api/v1/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.ledger.CreateWallet(c.Request.Context(), req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, wallet)
}

// ============================================================
// 支付网关回调
// ============================================================

type GatewayCallbackRequest struct {
	TransactionNo string `json:"transaction_no" binding:"required"`
	Status        string `json:"status" binding:"required"`
}

// GatewayCallback 网关通知出款结果
// POST /api/v1/gateway/callback
func (h *Handler) GatewayCallback(c *gin.Context) {
	var req GatewayCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.ledger.ResolveWithdraw(c.Request.Context(), req.TransactionNo, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"transaction_no": trans.TransactionNo,
		"status":         trans.Status,
	})
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}

// writeError 按错误分类映射业务码与 HTTP 状态码
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		code := response.CodeTransactionNotFound
		if errors.Is(err, repository.ErrWalletNotFound) {
			code = response.CodeWalletNotFound
		}
		response.BusinessError(c, http.StatusNotFound, code, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, http.StatusUnprocessableEntity, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, service.ErrPolicyViolation):
		response.BusinessError(c, http.StatusBadRequest, response.CodePolicyViolation, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		response.BusinessError(c, http.StatusConflict, response.CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrConflict):
		c.Header("Retry-After", "1")
		response.BusinessError(c, http.StatusConflict, response.CodeConflict, err.Error())
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}
