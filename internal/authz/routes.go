package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/policy"
)

// routes registers the admin HTTP surface spec §6 names under /authz/api.
func (p *Plugin) routes(router gin.IRoutes) {
	router.GET("/api/policies", p.listPolicies)
	router.GET("/api/policies/:id", p.getPolicy)
	router.POST("/api/policies", p.upsertPolicy)
	router.DELETE("/api/policies/:id", p.deletePolicy)
	router.POST("/api/evaluate", p.evaluate)
	router.POST("/api/explain", p.explain)
}

func (p *Plugin) listPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, p.store.List())
}

func (p *Plugin) getPolicy(c *gin.Context) {
	pol, ok := p.store.Get(c.Param("id"))
	if !ok {
		writeAppError(c, apperrors.NotFound("policy"))
		return
	}
	c.JSON(http.StatusOK, pol)
}

func (p *Plugin) upsertPolicy(c *gin.Context) {
	var pol policy.Policy
	if err := c.ShouldBindJSON(&pol); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if pol.ID == "" || pol.Effect == "" || len(pol.Subjects) == 0 || len(pol.Resources) == 0 || len(pol.Actions) == 0 {
		writeAppError(c, apperrors.ValidationError("policy requires id, effect, subjects, resources, actions"))
		return
	}
	pol.Reason = p.sanitize.Sanitize(pol.Reason)
	if err := p.store.Upsert(pol); err != nil {
		writeAppError(c, apperrors.InternalServer(err.Error()))
		return
	}
	c.JSON(http.StatusOK, pol)
}

func (p *Plugin) deletePolicy(c *gin.Context) {
	if err := p.store.Delete(c.Param("id")); err != nil {
		writeAppError(c, apperrors.InternalServer(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

type evaluateRequest struct {
	Subject  policy.Subject  `json:"subject"`
	Resource policy.Resource `json:"resource"`
	Action   policy.Action   `json:"action"`
	IP       string          `json:"ip"`
}

func (p *Plugin) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	ctx := policy.Context{Subject: req.Subject, Resource: req.Resource, Action: req.Action, IP: req.IP, Now: wallClock}
	decision := policy.Evaluate(ctx, p.store.List(), p.cfg.Algorithm, p.cfg.DefaultEffect)
	decision.Reason = p.sanitize.Sanitize(decision.Reason)
	c.JSON(http.StatusOK, decision)
}

func (p *Plugin) explain(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, apperrors.ValidationError(err.Error()))
		return
	}
	ctx := policy.Context{Subject: req.Subject, Resource: req.Resource, Action: req.Action, IP: req.IP, Now: wallClock}
	policies := p.store.List()
	decision := policy.Evaluate(ctx, policies, p.cfg.Algorithm, p.cfg.DefaultEffect)
	decision.Reason = p.sanitize.Sanitize(decision.Reason)
	c.JSON(http.StatusOK, gin.H{
		"context":  req,
		"decision": decision,
		"policies": policies,
	})
}

func writeAppError(c *gin.Context, aerr *apperrors.AppError) {
	c.JSON(aerr.StatusCode, aerr.ToResponse())
}
