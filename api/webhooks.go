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

	model2 "github.com/jerry-enebeli/payouts/api/model"
)

// ProviderWebhook acknowledges a rail delivery once it is durably queued.
// ?sync=true applies it before responding and returns the event log row.
func (a Api) ProviderWebhook(c *gin.Context) {
	var hook model2.ProviderWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := hook.ValidateProviderWebhook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if c.Query("sync") == "true" {
		event, err := a.payouts.HandleProviderWebhook(c.Request.Context(), hook.ToProviderWebhook())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, event)
		return
	}

	eventID, err := a.payouts.QueueProviderWebhook(c.Request.Context(), hook.ToProviderWebhook())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, model2.WebhookAccepted{EventID: eventID, Queued: true})
}
