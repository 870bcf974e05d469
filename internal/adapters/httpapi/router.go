package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/updown/internal/application/engine"
)

// RouterConfig wires the HTTP surface of roundd.
type RouterConfig struct {
	Admin      string // identity the admin routes act as
	AdminToken string
	Debug      bool
	Now        func() time.Time
}

// NewRouter builds the gin engine with health, public and admin routes.
func NewRouter(cfg RouterConfig, eng *engine.Engine) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())

	health := &HealthHandler{Ready: eng.Ready}
	health.Register(r)
	rounds := &RoundHandler{Engine: eng, Now: cfg.Now}
	rounds.Register(r)
	admin := &AdminHandler{Engine: eng, Admin: cfg.Admin, Token: cfg.AdminToken, Now: cfg.Now}
	admin.Register(r)
	return r
}
