// Discord webhook notifier
// https://discord.com/developers/docs/resources/webhook#execute-webhook
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/metachris/mevguard/common"
	"github.com/pkg/errors"
)

// discordMaxLen is the webhook content limit
const discordMaxLen = 2000

var ErrNoWebhookURL = errors.New("no discord webhook url configured")

type DiscordWebhookPayload struct {
	Content string `json:"content"`
}

type DiscordNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger

	// MinRiskScore filters out low risk attacks, which would otherwise flood the channel
	MinRiskScore int
}

func NewDiscordNotifier(webhookURL string, client *http.Client, logger *slog.Logger) *DiscordNotifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DiscordNotifier{url: webhookURL, client: client, logger: logger}
}

func (d *DiscordNotifier) NotifyAttack(ctx context.Context, r *common.AttackRecord) error {
	if r.RiskScore < d.MinRiskScore {
		return nil
	}

	msg := fmt.Sprintf("**%s** detected on %s (risk %d/100)\ntx: `%s`\ngas price: %s gwei, est. slippage loss: %s ETH",
		r.Type, r.Network, r.RiskScore, r.TxHash.Hex(),
		common.BigIntToEString(r.GasPrice, 2), common.WeiToEth(r.SlippageLoss).StringFixed(5))
	if r.Attacker != nil {
		msg += fmt.Sprintf("\nattacker: `%s`", r.Attacker.Hex())
	}
	if len(r.Factors) > 0 {
		msg += "\n```\n" + strings.Join(r.Factors, "\n") + "\n```"
	}
	return d.Send(ctx, msg)
}

func (d *DiscordNotifier) NotifyOpportunity(ctx context.Context, r *common.OpportunityRecord) error {
	msg := fmt.Sprintf("backrun opportunity in bundle `%s` (confidence %.2f)\n%s", r.BundleHash, r.Confidence, r.Analysis)
	return d.Send(ctx, msg)
}

// Send splits one message into multiple if necessary (max size is 2k characters)
func (d *DiscordNotifier) Send(ctx context.Context, msg string) error {
	if msg == "" {
		return nil
	}

	for {
		if len(msg) < discordMaxLen {
			return d.send(ctx, msg)
		}

		// Extract 2k of message and send those
		smallMsg := ""
		if strings.Contains(msg, "```") {
			smallMsg = msg[0:1994] + "...```"
			msg = "```..." + msg[1994:]
		} else {
			smallMsg = msg[0:1997] + "..."
			msg = "..." + msg[1997:]
		}

		if err := d.send(ctx, smallMsg); err != nil {
			return err
		}
	}
}

func (d *DiscordNotifier) send(ctx context.Context, msg string) error {
	if len(d.url) == 0 {
		return ErrNoWebhookURL
	}

	payloadBytes, err := json.Marshal(DiscordWebhookPayload{Content: msg})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return common.Unavailable(err, "discord webhook")
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(res.Body)
		return common.ProtocolError("discord webhook returned %s: %s", res.Status, string(bodyBytes))
	}
	d.logger.Debug("discord message sent", "status", res.Status, "length", len(msg))
	return nil
}
