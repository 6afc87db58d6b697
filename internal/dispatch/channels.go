package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"safevoice/pkg/config"
	"safevoice/pkg/logger"

	"go.uber.org/zap"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioChannel delivers through the Twilio Messages API. The same
// endpoint serves plain SMS and WhatsApp; WhatsApp numbers carry a
// "whatsapp:" prefix on From and To.
type TwilioChannel struct {
	name       string
	accountSID string
	authToken  string
	from       string
	prefix     string // "" for SMS, "whatsapp:" for WhatsApp
	base       string
	client     *http.Client
}

func NewTwilioSMS(cfg config.TwilioConfig, client *http.Client) *TwilioChannel {
	return &TwilioChannel{
		name:       "sms",
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.SMSFrom,
		base:       twilioAPIBase,
		client:     client,
	}
}

func NewTwilioWhatsApp(cfg config.TwilioConfig, client *http.Client) *TwilioChannel {
	return &TwilioChannel{
		name:       "whatsapp",
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.WhatsAppFrom,
		prefix:     "whatsapp:",
		base:       twilioAPIBase,
		client:     client,
	}
}

func (t *TwilioChannel) Name() string { return t.name }

func (t *TwilioChannel) Send(ctx context.Context, phone, body string) error {
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	form := url.Values{}
	form.Set("To", t.prefix+phone)
	form.Set("From", t.prefix+t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.base, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio %s: status %d: %s", t.name, resp.StatusCode, payload)
	}
	return nil
}

// MetaWhatsAppChannel delivers through the Meta Graph Cloud API, used
// when Twilio WhatsApp is not configured.
type MetaWhatsAppChannel struct {
	token         string
	phoneNumberID string
	base          string
	client        *http.Client
}

func NewMetaWhatsApp(cfg config.MetaConfig, client *http.Client) *MetaWhatsAppChannel {
	return &MetaWhatsAppChannel{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		base:          "https://graph.facebook.com/v17.0",
		client:        client,
	}
}

func (m *MetaWhatsAppChannel) Name() string { return "whatsapp" }

func (m *MetaWhatsAppChannel) Send(ctx context.Context, phone, body string) error {
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		// Graph API wants the number without the plus
		"to":   strings.TrimPrefix(phone, "+"),
		"type": "text",
		"text": map[string]string{"body": body},
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/%s/messages", m.base, m.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp graph: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// Console is the degraded channel used when no credentials are
// configured: alerts are logged instead of delivered, and the report is
// flagged simulated so the caller can tell the difference.
type Console struct{}

func (Console) Name() string { return "console" }

func (Console) Send(_ context.Context, phone, body string) error {
	logger.Info("[SIMULATED ALERT]", zap.String("to", phone), zap.String("body", body))
	return nil
}

// ChannelsFromConfig builds the ordered channel list: WhatsApp first
// (preferred), SMS as fallback, console when nothing is configured.
func ChannelsFromConfig(twilio config.TwilioConfig, meta config.MetaConfig, client *http.Client) []Channel {
	var channels []Channel
	hasTwilio := twilio.AccountSID != "" && twilio.AuthToken != ""
	if hasTwilio && twilio.WhatsAppFrom != "" {
		channels = append(channels, NewTwilioWhatsApp(twilio, client))
	} else if meta.Token != "" && meta.PhoneNumberID != "" {
		channels = append(channels, NewMetaWhatsApp(meta, client))
	}
	if hasTwilio && twilio.SMSFrom != "" {
		channels = append(channels, NewTwilioSMS(twilio, client))
	}
	if len(channels) == 0 {
		logger.Warn("no alert credentials configured, broadcasts will be simulated")
		channels = append(channels, Console{})
	}
	return channels
}
