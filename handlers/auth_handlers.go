// api/handlers/auth_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"printshop/analytics/models"
	"printshop/analytics/store"
	"printshop/analytics/utils"
)

const TokenCookie = "jwt_token"

// OperatorRepository is the subset of the operator store the auth handlers
// need.
type OperatorRepository interface {
	CreateOperator(ctx context.Context, email string, hashedPassword []byte) (*models.Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (*models.Operator, error)
}

type AuthHandlers struct {
	Operators OperatorRepository
	Tokens    *utils.TokenIssuer
	logger    *zap.Logger
}

func NewAuthHandlers(operators OperatorRepository, tokens *utils.TokenIssuer, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{Operators: operators, Tokens: tokens, logger: logger}
}

// HashPassword is shared with the create-operator command.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// CreateOperator registers another dashboard operator. Only authenticated
// operators reach it.
func (h *AuthHandlers) CreateOperator(c *gin.Context) {
	var req models.CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	op, err := h.Operators.CreateOperator(c.Request.Context(), req.Email, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrOperatorExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Operator with this email already exists"})
			return
		}
		h.logger.Error("failed to create operator", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register operator"})
		return
	}

	h.logger.Info("operator registered", zap.Int("operator_id", op.ID), zap.String("email", op.Email))
	c.JSON(http.StatusCreated, gin.H{"message": "Operator registered successfully", "email": op.Email})
}

// Login checks operator credentials and issues a JWT in an HTTP-only cookie.
// The token is also returned in the body for non-browser clients.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	op, err := h.Operators.GetOperatorByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("operator lookup failed", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(op.HashedPassword, []byte(req.Password)); err != nil {
		h.logger.Info("login failed: password mismatch", zap.String("email", req.Email))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(op)
	if err != nil {
		h.logger.Error("failed to generate JWT", zap.Int("operator_id", op.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(TokenCookie, tokenString, int(h.Tokens.TTL().Seconds()), "/", "", gin.Mode() == gin.ReleaseMode, true)

	h.logger.Info("operator logged in", zap.Int("operator_id", op.ID))
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"email":   op.Email,
		"token":   tokenString,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(TokenCookie, "", -1, "/", "", gin.Mode() == gin.ReleaseMode, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
