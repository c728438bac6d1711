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

	apimodel "github.com/vyomnext/banklink/api/model"
	"github.com/vyomnext/banklink/internal/apierror"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// CreateTransfer runs a transfer and answers with its outcome envelope.
//
// Responses:
// - 200 OK: the transfer succeeded, or an earlier result was replayed.
// - 400 Bad Request: the body is malformed or a business rule failed.
// - 401/403: the PIN was wrong or the source account is not the caller's.
// - 409 Conflict: the idempotency key is in use.
// - 503 Service Unavailable: a bank could not be reached.
// - 500 Internal Server Error: the refund failed and support was alerted.
func (a Api) CreateTransfer(c *gin.Context) {
	var newTransfer apimodel.CreateTransfer
	if err := c.ShouldBindJSON(&newTransfer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err := newTransfer.ValidateCreateTransfer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": err.Error()})
		return
	}

	outcome, err := a.banklink.Transfer(c.Request.Context(), newTransfer.ToTransferRequest(c.GetHeader(IdempotencyKeyHeader)))
	if err != nil {
		if outcome == nil {
			respondError(c, err)
			return
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (a Api) GetTransfer(c *gin.Context) {
	txn, err := a.banklink.GetTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (a Api) GetTransferHistory(c *gin.Context) {
	var query apimodel.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err := query.ValidateHistoryQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "errors": err.Error()})
		return
	}

	txns, err := a.banklink.GetTransferHistory(c.Request.Context(), query.UserID, query.NormalizedStatus(), query.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

func (a Api) GetTransfersRequiringAttention(c *gin.Context) {
	txns, err := a.banklink.GetTransfersRequiringAttention(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}
