package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
)

// NewClient creates a Pub/Sub v2 client and checks that the configured topics
// and subscriptions exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topicNames(cfg)), "pubsub client initialized")
	}
	return c, nil
}

func topicNames(cfg config.PubSubConfig) []string {
	return nonEmpty(cfg.WorkflowTopic, cfg.TransferTopic)
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	return nonEmpty(cfg.WorkflowSubscription, cfg.TransferSubscription)
}

func nonEmpty(values ...string) []string {
	out := []string{}
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Ping verifies every configured topic and subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	topics := topicNames(c.cfg)
	if len(topics) == 0 {
		return errNoTopics
	}
	for _, name := range topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topicResourceName(name)})
		if err != nil {
			return describe("topic", name, err)
		}
	}
	for _, name := range subscriptionNames(c.cfg) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.subscriptionResourceName(name)})
		if err != nil {
			return describe("subscription", name, err)
		}
	}
	return nil
}

func describe(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Publisher returns a publisher handle for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	return resourceName(c.projectID, "subscriptions", name)
}

func (c *Client) topicResourceName(name string) string {
	return resourceName(c.projectID, "topics", name)
}

func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
