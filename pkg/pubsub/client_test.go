package pubsub

import (
	"context"
	"testing"

	"github.com/vyris/vyris-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"vyris-prod", "topics", "vyris-membership-events", "projects/vyris-prod/topics/vyris-membership-events"},
		{"vyris-prod", "topics", "projects/other/topics/t", "projects/other/topics/t"},
		{"vyris-prod", "subscriptions", " mailer ", "projects/vyris-prod/subscriptions/mailer"},
		{"", "topics", "t", ""},
		{"vyris-prod", "topics", "  ", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Errorf("resourceName(%q,%q,%q)=%q want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{MembershipTopic: "m", NotificationTopic: " "})
	if len(names) != 1 || names[0] != "m" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil {
		t.Fatal("nil client should not return a publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
