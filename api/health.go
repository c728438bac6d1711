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

	"github.com/vyomnext/banklink"
)

func (a Api) Health(c *gin.Context) {
	report := a.banklink.Health(c.Request.Context())
	status := http.StatusOK
	if report.Status == banklink.HealthDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
