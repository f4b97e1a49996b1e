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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/jerry-enebeli/payouts/api/model"
	"github.com/jerry-enebeli/payouts/model"
)

// InitiatePayout is idempotent on reference: a repeat returns the existing
// payout with 200. With ?strict=true a repeat is a 409 instead.
func (a Api) InitiatePayout(c *gin.Context) {
	var newPayout model2.CreatePayout
	if err := c.ShouldBindJSON(&newPayout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newPayout.ValidateCreatePayout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if c.Query("strict") == "true" {
		resp, err := a.payouts.CreatePayout(c.Request.Context(), newPayout.ToPayout())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
		return
	}

	resp, created, err := a.payouts.InitiatePayout(c.Request.Context(), newPayout.ToPayout())
	if err != nil {
		respondError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPayout(c *gin.Context) {
	resp, err := a.payouts.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an integer"})
		return 0, false
	}
	return v, true
}

func (a Api) ListPayouts(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	filter := model.PayoutFilter{
		CreatorID: c.Query("creator_id"),
		Status:    model.Status(c.Query("status")),
		Currency:  c.Query("currency"),
		Page:      page,
		Limit:     limit,
		Ascending: c.Query("order") == "asc",
	}
	resp, err := a.payouts.ListPayouts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	filter.Normalize()
	if resp == nil {
		resp = []*model.Payout{}
	}
	c.JSON(http.StatusOK, model2.PayoutList{Data: resp, Page: filter.Page, Limit: filter.Limit})
}

func (a Api) GetStatusHistory(c *gin.Context) {
	resp, err := a.payouts.GetStatusHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) CancelPayout(c *gin.Context) {
	resp, err := a.payouts.CancelPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) RefundPayout(c *gin.Context) {
	resp, err := a.payouts.RefundPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) SoftDeletePayout(c *gin.Context) {
	id := c.Param("id")
	if err := a.payouts.SoftDeletePayout(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model2.NewDeletedPayout(id, a.payouts.Now()))
}
