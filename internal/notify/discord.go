package notify

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/reelsonar/internal/jobs"
	"github.com/MrWong99/reelsonar/internal/observe"
	"github.com/MrWong99/reelsonar/pkg/faults"
)

// webhookExecutor is the slice of *discordgo.Session the notifier needs.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts the summary line through a Discord webhook.
// Deliveries are best effort; failures are logged, never retried.
type DiscordNotifier struct {
	session webhookExecutor
	id      string
	token   string
}

// NewDiscordNotifier parses webhookURL and returns the discord backend. No
// bot token is needed; the webhook token authenticates delivery.
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, faults.Wrap(faults.Internal, "notify: discord session", err)
	}
	return &DiscordNotifier{session: session, id: id, token: token}, nil
}

// JobFinished implements [Notifier].
func (n *DiscordNotifier) JobFinished(ctx context.Context, snap jobs.Snapshot) {
	_, err := n.session.WebhookExecute(n.id, n.token, false, &discordgo.WebhookParams{
		Content: SummaryLine(snap),
	}, discordgo.WithContext(ctx))
	if err != nil {
		observe.Logger(ctx).Warn("discord notification failed",
			"job_id", snap.JobID, "error", err)
	}
}

// ParseWebhookURL extracts the webhook id and token from a Discord webhook
// URL of the form https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(webhookURL string) (id, token string, err error) {
	const marker = "/api/webhooks/"
	i := strings.Index(webhookURL, marker)
	if i < 0 {
		return "", "", faults.Newf(faults.Validation, "notify: webhook url", "missing %s segment", marker)
	}
	rest := strings.TrimSuffix(webhookURL[i+len(marker):], "/")
	id, token, ok := strings.Cut(rest, "/")
	if !ok || id == "" || token == "" || strings.Contains(token, "/") {
		return "", "", faults.New(faults.Validation, "notify: webhook url")
	}
	return id, token, nil
}
