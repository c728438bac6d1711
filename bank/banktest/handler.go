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

package banktest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyomnext/banklink/bank"
	"github.com/vyomnext/banklink/internal/apierror"
	"github.com/vyomnext/banklink/model"
)

type pinBody struct {
	AccountNumber string `json:"account_number" binding:"required"`
	PIN           string `json:"pin" binding:"required"`
}

type movementBody struct {
	AccountNumber string              `json:"account_number" binding:"required"`
	Amount        model.RequestAmount `json:"amount"`
	Description   string              `json:"description"`
	PIN           string              `json:"pin"`
}

// Handler serves a Ledger over the bank ledger HTTP contract.
func Handler(l *Ledger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		if err := l.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "bank": l.bank.Code, "error": message(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "bank": l.bank.Code})
	})

	router.GET("/accounts/:identity", func(c *gin.Context) {
		identity := c.Param("identity")
		if !model.ValidIdentity(identity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Aadhaar number format"})
			return
		}
		accounts, err := l.ListAccounts(c.Request.Context(), identity)
		if err != nil {
			c.JSON(status(err), gin.H{"error": message(err)})
			return
		}
		c.JSON(http.StatusOK, accounts)
	})

	router.GET("/transactions/:account_number", func(c *gin.Context) {
		transactions, err := l.ListTransactions(c.Request.Context(), c.Param("account_number"))
		if err != nil {
			c.JSON(status(err), gin.H{"error": message(err)})
			return
		}
		c.JSON(http.StatusOK, transactions)
	})

	router.POST("/verify_pin", func(c *gin.Context) {
		var body pinBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Account number and PIN required"})
			return
		}
		valid, err := l.VerifyPIN(c.Request.Context(), body.AccountNumber, body.PIN)
		if err != nil {
			c.JSON(status(err), gin.H{"error": message(err)})
			return
		}
		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Invalid PIN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true})
	})

	router.POST("/debit", movementHandler(l, bank.OpDebit))
	router.POST("/credit", movementHandler(l, bank.OpCredit))

	return router
}

func movementHandler(l *Ledger, operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body movementBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
			return
		}
		movement := bank.Movement{
			AccountNumber: body.AccountNumber,
			Amount:        body.Amount.Amount(),
			Description:   body.Description,
			PIN:           body.PIN,
		}

		var balance model.Amount
		var err error
		if operation == bank.OpDebit {
			balance, err = l.Debit(c.Request.Context(), movement)
		} else {
			balance, err = l.Credit(c.Request.Context(), movement)
		}
		if err != nil {
			c.JSON(status(err), gin.H{"status": "error", "error": message(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "balance": balance})
	}
}

func status(err error) int {
	if apierror.IsCode(err, apierror.ErrUpstreamUnavailable) {
		return http.StatusInternalServerError
	}
	return apierror.MapErrorToHTTPStatus(err)
}

func message(err error) string {
	if apiErr, ok := apierror.As(err); ok {
		return apiErr.Message
	}
	return err.Error()
}
