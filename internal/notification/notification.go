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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vyomnext/banklink/config"
	"github.com/vyomnext/banklink/internal/request"
)

// WebhookSender enqueues an outbound webhook for an event.
type WebhookSender func(ctx context.Context, event string, payload interface{}) error

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, fields map[string]string, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, fields[k])}},
		})
	}
	msg.Blocks = append(msg.Blocks, slackBlock{
		Type:   "section",
		Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", at.Format(time.RFC822))}},
	})
	return msg
}

// postSlack sends msg to the webhook. The call is bounded by the Slack timeout
// and by ctx, whichever ends first.
func postSlack(ctx context.Context, slack config.SlackWebhook, msg slackMessage) error {
	payload, err := request.ToJsonReq(&msg)
	if err != nil {
		return err
	}

	timeout := slack.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slack.WebhookUrl, payload)
	if err != nil {
		return err
	}

	resp, err := request.CallWithClient(&http.Client{Timeout: timeout}, req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotification sends an error message to the configured Slack webhook.
func SlackNotification(ctx context.Context, err error) error {
	conf, cerr := config.Fetch()
	if cerr != nil {
		return cerr
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	msg := buildSlackMessage(fmt.Sprintf("Error From %s 🐞", conf.ProjectName), map[string]string{
		"Error": err.Error(),
	}, time.Now())
	return postSlack(ctx, conf.Notification.Slack, msg)
}

// NotifyError logs a system error and reports it to Slack when configured.
// Delivery happens in the background.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		if err := SlackNotification(context.Background(), systemError); err != nil {
			logrus.WithError(err).Warn("slack notification failed")
		}
	}(systemError)
}

// Notifier escalates conditions that need an operator. Each service instance
// owns its own Notifier and webhook sender.
type Notifier struct {
	sender WebhookSender
}

// NewNotifier returns a Notifier forwarding critical events to sender. A nil
// sender only logs and posts to Slack.
func NewNotifier(sender WebhookSender) *Notifier {
	return &Notifier{sender: sender}
}

// NotifyCritical logs the event at error level, posts it to Slack and forwards
// it to the webhook sender. It returns once both deliveries have been
// attempted; the Slack post never outlives its configured timeout.
func (n *Notifier) NotifyCritical(ctx context.Context, event string, payload interface{}, details map[string]string) {
	fields := logrus.Fields{"event": event}
	for k, v := range details {
		fields[strings.ToLower(strings.ReplaceAll(k, " ", "_"))] = v
	}
	logrus.WithFields(fields).Error("critical event requires manual intervention")

	conf, err := config.Fetch()
	if err == nil && conf.Notification.Slack.WebhookUrl != "" {
		msg := buildSlackMessage(fmt.Sprintf("%s: %s 🚨", conf.ProjectName, event), details, time.Now())
		if err := postSlack(ctx, conf.Notification.Slack, msg); err != nil {
			logrus.WithError(err).Warn("slack notification failed")
		}
	}

	if n != nil && n.sender != nil {
		if err := n.sender(ctx, event, payload); err != nil {
			logrus.WithError(err).WithField("event", event).Warn("webhook enqueue failed")
		}
	}
}
