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

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vyomnext/banklink/config"
	redis_db "github.com/vyomnext/banklink/internal/redis-db"
)

const webhookMaxRetry = 5

// Queue represents a queue for handling background tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
}

// NewQueue connects the webhook queue to the configured Redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		name:      conf.Queue.WebhookQueue,
	}, nil
}

func (q *Queue) Name() string {
	return q.name
}

// EnqueueWebhook adds a webhook delivery task to the webhook queue.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	ctx, span := tracer.Start(ctx, "Adding Webhook To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.name, payload, asynq.Queue(q.name), asynq.MaxRetry(webhookMaxRetry))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.WithField("event", hook.Event).WithError(err).Error("webhook enqueue failed")
		return err
	}
	logrus.WithFields(logrus.Fields{"event": hook.Event, "task_id": info.ID}).Debug("webhook enqueued")
	return nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}
