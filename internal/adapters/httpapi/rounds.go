package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/updown/internal/application/engine"
	"github.com/alejandrodnm/updown/internal/domain"
)

// RoundHandler serves the public read routes plus the user actions
// (bets, claims) and the permissionless fee sweep.
type RoundHandler struct {
	Engine *engine.Engine
	Now    func() time.Time
}

func (h *RoundHandler) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	v1.GET("/config", h.config)
	v1.GET("/accounts/:owner", h.balance)

	g := v1.Group("/rounds")
	g.GET("", h.list)
	g.GET("/current", h.current)
	g.GET("/:id", h.get)
	g.GET("/:id/bets", h.bets)
	g.GET("/:id/bets/:user", h.bet)
	g.GET("/:id/vaults", h.vaults)
	g.POST("/:id/bets", h.placeBet)
	g.POST("/:id/claims", h.claim)
	g.POST("/:id/fees", h.collectFees)
}

func (h *RoundHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *RoundHandler) round(r domain.Round) RoundDTO {
	return toRound(r, r.State(h.now()))
}

func (h *RoundHandler) config(c *gin.Context) {
	cfg, err := h.Engine.GetConfig(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toConfig(cfg))
}

func (h *RoundHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	rounds, err := h.Engine.ListRounds(c.Request.Context(), limit)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]RoundDTO, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, h.round(r))
	}
	Ok(c, out)
}

func (h *RoundHandler) current(c *gin.Context) {
	r, err := h.Engine.CurrentRound(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.round(r))
}

func (h *RoundHandler) get(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	r, err := h.Engine.GetRound(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.round(r))
}

func (h *RoundHandler) bets(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	bets, err := h.Engine.ListBets(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]BetDTO, 0, len(bets))
	for _, b := range bets {
		out = append(out, toBet(b))
	}
	Ok(c, out)
}

func (h *RoundHandler) bet(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	q, err := h.Engine.Quote(c.Request.Context(), id, c.Param("user"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toQuote(q))
}

func (h *RoundHandler) vaults(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	v, err := h.Engine.VaultBalances(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAmounts(v))
}

func (h *RoundHandler) balance(c *gin.Context) {
	b, err := h.Engine.Balance(c.Request.Context(), c.Param("owner"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAmounts(b))
}

func (h *RoundHandler) placeBet(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	var body betRequest
	if !bindJSON(c, &body) {
		return
	}
	side, err := domain.ParseSide(body.Side)
	if err != nil {
		Fail(c, err)
		return
	}
	token, err := domain.ParseToken(body.Token)
	if err != nil {
		Fail(c, err)
		return
	}
	b, err := h.Engine.PlaceBet(c.Request.Context(), engine.BetRequest{
		RoundID: id,
		User:    caller(c),
		Amount:  body.Amount,
		Side:    side,
		Token:   token,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toBet(b))
}

func (h *RoundHandler) claim(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	var body claimRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &body) {
		return
	}
	ctx, user := c.Request.Context(), caller(c)

	var (
		res domain.ClaimResult
		err error
	)
	switch strings.ToLower(strings.TrimSpace(body.Token)) {
	case "", "all":
		res, err = h.Engine.ClaimAll(ctx, user, id)
	case "usdc", "a":
		res, err = h.Engine.Claim(ctx, user, id)
	case "urim", "b":
		res, err = h.Engine.ClaimUrim(ctx, user, id)
	default:
		err = domain.ErrInvalidToken
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, ClaimDTO{RoundID: res.RoundID, User: res.User, Paid: toAmounts(res.Paid)})
}

func (h *RoundHandler) collectFees(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	s, err := h.Engine.CollectFees(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, FeeSweepDTO{RoundID: s.RoundID, Collected: toAmounts(s.Collected), AlreadyCollected: s.AlreadyCollected})
}

func roundID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "", "invalid round id")
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		Error(c, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return false
	}
	return true
}
