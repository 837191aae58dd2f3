package authn

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wharfd/wharfd/internal/errors"
)

// routes registers authn's own admin surface under /authn.
func (p *Plugin) routes(router gin.IRoutes) {
	router.POST("/api/login", p.login)
	router.POST("/api/mfa/verify", p.mfaVerify)
}

type loginRequest struct {
	UserID string   `json:"userId" binding:"required"`
	Roles  []string `json:"roles"`
	Groups []string `json:"groups"`
	RootKey string  `json:"rootKey"`
}

// login is a minimal bootstrap credential exchange: it trusts the caller's
// claimed identity once the bootstrap ROOT_KEY has been presented, and
// issues a signed local JWT. Production identity providers integrate via
// the OIDC path in onRequest instead.
func (p *Plugin) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if !p.verifyRootKey(req.RootKey) {
		writeAppError(c, apperrors.AuthRequired("invalid root key"))
		return
	}
	token, err := p.issueToken(req.UserID, req.Roles, req.Groups)
	if err != nil {
		writeAppError(c, apperrors.InternalServer(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type mfaVerifyRequest struct {
	Secret string `json:"secret" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

func (p *Plugin) mfaVerify(c *gin.Context) {
	var req mfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if !verifyTOTP(req.Secret, req.Code) {
		writeAppError(c, apperrors.Forbidden("invalid MFA code"))
		return
	}
	c.Status(http.StatusNoContent)
}

func writeAppError(c *gin.Context, aerr *apperrors.AppError) {
	c.JSON(aerr.StatusCode, aerr.ToResponse())
}
