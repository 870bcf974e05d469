package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/domain"
)

// AdminHandler serves the bearer-protected admin routes. Every call acts as
// Admin, the identity roundd was configured with.
type AdminHandler struct {
	Engine *engine.Engine
	Admin  string
	Token  string
	Now    func() time.Time
}

func (h *AdminHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/admin", RequireAdminToken(h.Token))
	g.POST("/rounds", h.startRound)
	g.POST("/rounds/:id/resolve", h.resolveRound)
	g.POST("/rounds/:id/emergency-resolve", h.emergencyResolve)
	g.POST("/rounds/:id/emergency-withdraw", h.emergencyWithdraw)
	g.GET("/rounds/:id/audit", h.audit)
	g.POST("/pause", h.pause)
	g.POST("/treasury", h.treasury)
	g.POST("/credit", h.credit)
}

func (h *AdminHandler) round(r domain.Round) RoundDTO {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	return toRound(r, r.State(now))
}

func (h *AdminHandler) startRound(c *gin.Context) {
	var body startRequest
	if !bindJSON(c, &body) {
		return
	}
	ctx := c.Request.Context()
	d := time.Duration(body.DurationSeconds) * time.Second

	var (
		r   domain.Round
		err error
	)
	if body.Price != nil {
		r, err = h.Engine.StartRoundManual(ctx, h.Admin, d, *body.Price)
	} else {
		r, err = h.Engine.StartRound(ctx, h.Admin, d)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.round(r))
}

func (h *AdminHandler) resolveRound(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	var body resolveRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &body) {
		return
	}
	ctx := c.Request.Context()

	var (
		r   domain.Round
		err error
	)
	if body.Price != nil {
		r, err = h.Engine.ResolveRoundManual(ctx, h.Admin, id, *body.Price)
	} else {
		r, err = h.Engine.ResolveRound(ctx, h.Admin, id)
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.round(r))
}

func (h *AdminHandler) emergencyResolve(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	var body emergencyResolveRequest
	if !bindJSON(c, &body) {
		return
	}
	outcome, err := domain.ParseOutcome(body.Outcome)
	if err != nil {
		Fail(c, err)
		return
	}
	r, err := h.Engine.EmergencyResolve(c.Request.Context(), h.Admin, id, body.Price, outcome)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.round(r))
}

func (h *AdminHandler) emergencyWithdraw(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	swept, err := h.Engine.EmergencyWithdraw(c.Request.Context(), h.Admin, id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAmounts(swept))
}

func (h *AdminHandler) audit(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	entries, err := h.Engine.AuditLog(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]AuditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditDTO{
			ID:      e.ID,
			Action:  e.Action,
			Actor:   e.Actor,
			RoundID: e.RoundID,
			Detail:  e.Detail,
			At:      e.At.UTC().Format(time.RFC3339),
		})
	}
	Ok(c, out)
}

func (h *AdminHandler) pause(c *gin.Context) {
	var body pauseRequest
	if !bindJSON(c, &body) {
		return
	}
	cfg, err := h.Engine.SetPaused(c.Request.Context(), h.Admin, body.Paused)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toConfig(cfg))
}

func (h *AdminHandler) treasury(c *gin.Context) {
	var body treasuryRequest
	if !bindJSON(c, &body) {
		return
	}
	token, err := domain.ParseToken(body.Token)
	if err != nil {
		Fail(c, err)
		return
	}
	cfg, err := h.Engine.SetTreasury(c.Request.Context(), h.Admin, token, body.Account)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toConfig(cfg))
}

func (h *AdminHandler) credit(c *gin.Context) {
	var body creditRequest
	if !bindJSON(c, &body) {
		return
	}
	token, err := domain.ParseToken(body.Token)
	if err != nil {
		Fail(c, err)
		return
	}
	bal, err := h.Engine.Credit(c.Request.Context(), h.Admin, body.Owner, token, body.Amount)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, creditResponse{Owner: body.Owner, Token: token.String(), Balance: bal})
}
