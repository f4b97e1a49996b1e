/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jerry-enebeli/payouts"
	"github.com/jerry-enebeli/payouts/api/middleware"
	"github.com/jerry-enebeli/payouts/internal/apierror"
)

type Api struct {
	payouts *payouts.Payouts
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/payouts", a.InitiatePayout)
	router.GET("/payouts", a.ListPayouts)
	router.GET("/payouts/:id", a.GetPayout)
	router.GET("/payouts/:id/history", a.GetStatusHistory)
	router.POST("/payouts/:id/cancel", a.CancelPayout)
	router.POST("/payouts/:id/refund", a.RefundPayout)
	router.DELETE("/payouts/:id", a.SoftDeletePayout)

	router.POST("/webhooks/provider", a.ProviderWebhook)

	router.GET("/reports/recent-successes", a.RecentSuccesses)
	router.GET("/reports/pending-summary", a.PendingSummary)
	router.GET("/reports/creators/:id/stats", a.CreatorStats)
	return a.router
}

func NewAPI(p *payouts.Payouts) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := p.Config()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{payouts: p, router: r}
}

// respondError writes err with the status its code maps to. Internal errors
// are logged and their details withheld.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apierror.CodeOf(err)})
}
