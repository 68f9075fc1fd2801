// Package imap reads classification requests from an IMAP mailbox.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
)

type Connector struct {
	addr     string
	host     string
	secure   bool
	user     string
	password string
	markSeen bool
	since    time.Duration
	log      *zap.Logger
}

func NewConnector(cfg config.Config, log *zap.Logger) (*Connector, error) {
	for _, req := range []struct{ name, value string }{
		{"IMAP_HOST", cfg.IMAPHost},
		{"IMAP_USER", cfg.IMAPUser},
		{"IMAP_PASSWORD", cfg.IMAPPassword},
	} {
		if err := cfg.Require(req.name, req.value); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Connector{
		addr:     fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort),
		host:     cfg.IMAPHost,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
		since:    cfg.IMAPSince,
		log:      log,
	}, nil
}

// FetchInbox reads up to max unseen messages from label, keeping the newest
// by UID. Unless markSeen is set the mailbox is opened read-only and bodies
// are peeked, so messages stay unseen for other clients. Cancelling ctx
// terminates the connection.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Terminate()
		case <-done:
		}
	}()

	out, err := c.fetch(client, label, max)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, err
}

func (c *Connector) connect() (*imapclient.Client, error) {
	var (
		client *imapclient.Client
		err    error
	)
	if c.secure {
		client, err = imapclient.DialTLS(c.addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(c.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", c.addr, err)
	}
	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return client, nil
}

func (c *Connector) fetch(client *imapclient.Client, label string, max int) ([]internal.FetchedMailMessage, error) {
	if _, err := client.Select(label, !c.markSeen); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", label, err)
	}

	uids, err := client.UidSearch(searchCriteria(c.since, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids = newest(uids, max)
	if len(uids) == 0 {
		return nil, nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	section := &imap.BodySectionName{Peek: !c.markSeen}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	fetchErr := make(chan error, 1)
	go func() { fetchErr <- client.UidFetch(set, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(uids))
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			c.log.Warn("imap message without body", zap.Uint32("uid", msg.Uid))
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			// Drain so the fetch goroutine can finish.
			for range messages {
			}
			<-fetchErr
			return nil, fmt.Errorf("imap read uid %d: %w", msg.Uid, err)
		}
		out = append(out, toFetched(msg, raw, time.Now()))
	}
	if err := <-fetchErr; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	c.log.Debug("imap fetch", zap.String("mailbox", label), zap.Int("matched", len(uids)), zap.Int("fetched", len(out)))
	return out, nil
}

// searchCriteria selects unseen messages, limited to those received within
// since of now when since is positive.
func searchCriteria(since time.Duration, now time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if since > 0 {
		criteria.Since = now.Add(-since)
	}
	return criteria
}

func newest(uids []uint32, max int) []uint32 {
	if max > 0 && len(uids) > max {
		return uids[len(uids)-max:]
	}
	return uids
}

func toFetched(msg *imap.Message, raw []byte, now time.Time) internal.FetchedMailMessage {
	fetched := internal.FetchedMailMessage{
		Provider:   "imap",
		MessageID:  fmt.Sprintf("imap-%d", msg.Uid),
		ReceivedAt: now.UTC().Format(time.RFC3339),
		Raw:        raw,
	}
	if env := msg.Envelope; env != nil {
		if env.MessageId != "" {
			fetched.MessageID = env.MessageId
		}
		fetched.Subject = env.Subject
		fetched.From = formatAddresses(env.From)
	}
	if !msg.InternalDate.IsZero() {
		fetched.ReceivedAt = msg.InternalDate.UTC().Format(time.RFC3339)
	}
	return fetched
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(a.MailboxName+"@"+a.HostName, "@")
		if a.PersonalName == "" {
			parts = append(parts, email)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
	}
	return strings.Join(parts, ", ")
}
