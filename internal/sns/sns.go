// Package sns sends presence change notifications to an AWS SNS topic.
package sns

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	appLog "calpresence/internal/log"
	"calpresence/internal/model"
)

const publishTimeout = 10 * time.Second

// API is the subset of *sns.Client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes presence readings to one topic.
type Publisher struct {
	api      API
	topicARN string
	loc      *time.Location
}

// New wraps an existing client. loc formats timestamps in messages; nil
// means time.Local.
func New(api API, topicARN string, loc *time.Location) *Publisher {
	if loc == nil {
		loc = time.Local
	}
	return &Publisher{api: api, topicARN: topicARN, loc: loc}
}

// NewFromEnvironment builds a client from the default AWS credential chain.
func NewFromEnvironment(ctx context.Context, topicARN string, loc *time.Location) (*Publisher, error) {
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(sns.NewFromConfig(awsConfig), topicARN, loc), nil
}

// FormatMessage renders the notification body.
func FormatMessage(state model.PresenceState, loc *time.Location) string {
	status := "free"
	if state.Present {
		status = "busy"
	}
	return fmt.Sprintf("Date: %s\nDevice: %s\nStatus: %s",
		state.At.In(loc).Format("Monday, Jan 02 2006 15:04"), state.Device, status)
}

// PublishPresence sends one notification.
func (p *Publisher) PublishPresence(state model.PresenceState) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	input := &sns.PublishInput{
		Message:  aws.String(FormatMessage(state, p.loc)),
		Subject:  aws.String("calpresence: " + state.Device),
		TopicArn: aws.String(p.topicARN),
	}

	out, err := p.api.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("error publishing to AWS SNS topic %s: %w", p.topicARN, err)
	}
	appLog.Debug("sns notification sent", "device", state.Device, "message_id", aws.ToString(out.MessageId))
	return nil
}
