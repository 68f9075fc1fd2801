// Package gmail reads classification requests from a Gmail mailbox through
// the Gmail API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
)

const (
	user        = "me"
	maxPageSize = 500
)

var errEnoughMessages = errors.New("enough messages listed")

type Connector struct {
	service *gmail.Service
	query   string
	log     *zap.Logger
}

func NewConnector(ctx context.Context, cfg config.Config, log *zap.Logger) (*Connector, error) {
	for _, req := range []struct{ name, value string }{
		{"GMAIL_CLIENT_ID", cfg.GmailClientID},
		{"GMAIL_CLIENT_SECRET", cfg.GmailClientSecret},
		{"GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken},
	} {
		if err := cfg.Require(req.name, req.value); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	tokens := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokens))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}

	return &Connector{service: svc, query: cfg.GmailQuery, log: log}, nil
}

// FetchInbox lists up to max messages under label, newest first as Gmail
// returns them, and downloads each in raw form. A message that cannot be
// downloaded is logged and skipped so one bad message does not stall intake.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	ids, err := c.listIDs(ctx, label, max)
	if err != nil {
		return nil, err
	}

	out := make([]internal.FetchedMailMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := c.fetchRaw(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("gmail message skipped", zap.String("gmail_id", id), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	c.log.Debug("gmail fetch", zap.String("label", label), zap.Int("listed", len(ids)), zap.Int("fetched", len(out)))
	return out, nil
}

func (c *Connector) listIDs(ctx context.Context, label string, max int) ([]string, error) {
	call := c.service.Users.Messages.List(user).LabelIds(label).MaxResults(pageSize(max))
	if c.query != "" {
		call = call.Q(c.query)
	}

	var ids []string
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, ref := range page.Messages {
			if ref.Id == "" {
				continue
			}
			ids = append(ids, ref.Id)
			if max > 0 && len(ids) >= max {
				return errEnoughMessages
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEnoughMessages) {
		return nil, fmt.Errorf("list gmail messages: %w", err)
	}
	return ids, nil
}

func (c *Connector) fetchRaw(ctx context.Context, id string) (internal.FetchedMailMessage, error) {
	resp, err := c.service.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return internal.FetchedMailMessage{}, err
	}
	if resp.Raw == "" {
		return internal.FetchedMailMessage{}, errors.New("empty raw payload")
	}
	raw, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return internal.FetchedMailMessage{}, err
	}
	return toFetched(id, headersFromRaw(raw), raw, time.Now()), nil
}

func pageSize(max int) int64 {
	if max <= 0 || max > maxPageSize {
		return maxPageSize
	}
	return int64(max)
}

// headersFromRaw returns the decoded headers the intake cares about, keyed in
// lower case. Unreadable messages yield an empty map.
func headersFromRaw(raw []byte) map[string]string {
	headers := map[string]string{}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return headers
	}
	for _, name := range []string{"Subject", "From", "Date", "Message-ID"} {
		if v := strings.TrimSpace(env.GetHeader(name)); v != "" {
			headers[strings.ToLower(name)] = v
		}
	}
	return headers
}

func toFetched(gmailID string, headers map[string]string, raw []byte, now time.Time) internal.FetchedMailMessage {
	received := now.UTC()
	if t, err := parseMailDate(headers["date"]); err == nil {
		received = t.UTC()
	}

	messageID := headers["message-id"]
	if messageID == "" {
		messageID = "gmail-" + gmailID
	}

	return internal.FetchedMailMessage{
		Provider:   "gmail",
		MessageID:  messageID,
		Subject:    headers["subject"],
		From:       headers["from"],
		ReceivedAt: received.Format(time.RFC3339),
		Raw:        raw,
	}
}

func decodeBase64URL(input string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(input); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("decode gmail raw payload: not base64url")
}

var mailDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
}

func parseMailDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date header")
	}
	// Zone comment, e.g. "(BRT)".
	if i := strings.LastIndex(value, " ("); i > 0 && strings.HasSuffix(value, ")") {
		value = value[:i]
	}
	for _, layout := range mailDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %q", value)
}
