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

package banklink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/internal/request"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// processHTTP posts a webhook notification to the configured endpoint.
func processHTTP(ctx context.Context, data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", data.Event, resp.StatusCode)
	}

	logrus.WithField("event", data.Event).Info("webhook notification sent")
	return nil
}

// SendWebhook enqueues a webhook notification. It is a no-op when no webhook
// URL or queue is configured.
func (b *Banklink) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	if b.queue == nil || b.config.Notification.Webhook.Url == "" {
		return nil
	}
	return b.queue.EnqueueWebhook(ctx, newWebhook)
}

// ProcessWebhook delivers a webhook task taken from the queue. A non-2xx
// answer fails the task so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("malformed webhook task")
		return fmt.Errorf("unmarshal webhook task: %v: %w", err, asynq.SkipRetry)
	}
	logrus.WithField("event", payload.Event).Info("processing webhook")
	return processHTTP(ctx, payload)
}
