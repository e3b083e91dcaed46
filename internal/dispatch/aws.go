package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"hiregate/internal/domain"
)

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSSink fans actions out to a topic; downstream subscribers own delivery.
type SNSSink struct {
	Client   SNSService
	TopicARN string
}

func NewSNSSink(ctx context.Context, region, topicARN string) (*SNSSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSSink{Client: sns.NewFromConfig(cfg), TopicARN: topicARN}, nil
}

func (s *SNSSink) Deliver(ctx context.Context, a domain.ActionRecord) error {
	message := a.PayloadJSON
	if message == "" {
		message = "{}"
	}
	_, err := s.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.TopicARN),
		Subject:  aws.String("hiregate " + string(a.Kind)),
		Message:  aws.String(message),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"action_kind":    {DataType: aws.String("String"), StringValue: aws.String(string(a.Kind))},
			"application_id": {DataType: aws.String("String"), StringValue: aws.String(a.ApplicationID)},
			"action_id":      {DataType: aws.String("String"), StringValue: aws.String(a.ID)},
		},
	})
	return err
}

// SESSink emails a recruiting inbox. Candidate contact details stay with the
// intake service.
type SESSink struct {
	Client SESService
	From   string
	To     string
}

func NewSESSink(ctx context.Context, region, from, to string) (*SESSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESSink{Client: ses.NewFromConfig(cfg), From: from, To: to}, nil
}

func (s *SESSink) Deliver(ctx context.Context, a domain.ActionRecord) error {
	subject := fmt.Sprintf("[hiregate] %s for application %s", a.Kind, a.ApplicationID)
	body := fmt.Sprintf("Action %s (%s)\nApplication: %s\nTransition: %s\nPayload: %s\n",
		a.ID, a.Kind, a.ApplicationID, a.TransitionID, a.PayloadJSON)
	_, err := s.Client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{s.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body:    &types.Body{Text: &types.Content{Data: aws.String(body)}},
		},
		Source: aws.String(s.From),
	})
	return err
}
