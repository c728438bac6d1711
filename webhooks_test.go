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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyomnext/banklink/config"
)

func newTestQueue(t *testing.T, cnf *config.Configuration) *Queue {
	t.Helper()
	server := miniredis.RunT(t)
	cnf.Redis.Dns = server.Addr()

	queue, err := NewQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return queue
}

func TestSendWebhook_Enqueues(t *testing.T) {
	cnf := testConfig()
	cnf.Notification.Webhook.Url = "http://localhost:5009/webhook"
	queue := newTestQueue(t, cnf)
	b := &Banklink{config: cnf, queue: queue}

	err := b.SendWebhook(context.Background(), NewWebhook{Event: EventTransferSuccess, Payload: fakeTransaction("SUCCESS")})
	require.NoError(t, err)

	tasks, err := queue.Inspector.ListPendingTasks(cnf.Queue.WebhookQueue)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, cnf.Queue.WebhookQueue, tasks[0].Type)
}

func TestSendWebhook_SkippedWithoutURLOrQueue(t *testing.T) {
	cnf := testConfig()
	assert.NoError(t, (&Banklink{config: cnf}).SendWebhook(context.Background(), NewWebhook{Event: EventTransferFailed}))

	queue := newTestQueue(t, cnf)
	b := &Banklink{config: cnf, queue: queue}
	require.NoError(t, b.SendWebhook(context.Background(), NewWebhook{Event: EventTransferFailed}))

	// Nothing was ever enqueued, so the queue does not exist.
	_, err := queue.Inspector.ListPendingTasks(cnf.Queue.WebhookQueue)
	assert.Error(t, err)
}

func TestTransfer_EmitsWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.config.Notification.Webhook.Url = "http://localhost:5009/webhook"
	env.banklink.queue = newTestQueue(t, env.config)

	_, err := env.banklink.Transfer(context.Background(), transferRequest(rupees(10)))
	require.NoError(t, err)

	tasks, err := env.banklink.queue.Inspector.ListPendingTasks(env.config.Queue.WebhookQueue)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	var hook struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &hook))
	assert.Equal(t, EventTransferSuccess, hook.Event)
	assert.Contains(t, string(hook.Data), `"status":"SUCCESS"`)
}

func TestProcessWebhook(t *testing.T) {
	var received NewWebhook
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("X-Banklink-Secret")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cnf := testConfig()
	cnf.Notification.Webhook.Url = server.URL
	cnf.Notification.Webhook.Headers = map[string]string{"X-Banklink-Secret": "s3cret"}
	config.MockConfig(cnf)

	payload, err := json.Marshal(NewWebhook{Event: EventTransferFailed, Payload: map[string]string{"transaction_id": "txn_1"}})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask(cnf.Queue.WebhookQueue, payload))
	require.NoError(t, err)
	assert.Equal(t, EventTransferFailed, received.Event)
	assert.Equal(t, "s3cret", auth)
}

func TestProcessWebhook_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cnf := testConfig()
	cnf.Notification.Webhook.Url = server.URL
	config.MockConfig(cnf)

	payload, err := json.Marshal(NewWebhook{Event: EventTransferSuccess})
	require.NoError(t, err)
	assert.Error(t, ProcessWebhook(context.Background(), asynq.NewTask(cnf.Queue.WebhookQueue, payload)))

	err = ProcessWebhook(context.Background(), asynq.NewTask(cnf.Queue.WebhookQueue, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
