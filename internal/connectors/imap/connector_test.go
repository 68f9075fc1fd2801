package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"

	"ncmcheck/internal/config"
)

func TestFormatAddresses(t *testing.T) {
	got := formatAddresses([]*imap.Address{
		{PersonalName: "Compras", MailboxName: "compras", HostName: "example.com"},
		nil,
		{MailboxName: "fiscal", HostName: "example.com"},
	})
	assert.Equal(t, "Compras <compras@example.com>, fiscal@example.com", got)
	assert.Equal(t, "", formatAddresses(nil))
}

func TestNewest(t *testing.T) {
	assert.Equal(t, []uint32{4, 5}, newest([]uint32{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, []uint32{1, 2}, newest([]uint32{1, 2}, 5))
	assert.Equal(t, []uint32{1, 2}, newest([]uint32{1, 2}, 0))
}

func TestToFetched(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	msg := toFetched(&imap.Message{Uid: 42}, []byte("raw"), now)
	assert.Equal(t, "imap-42", msg.MessageID)
	assert.Equal(t, "2026-10-19T00:00:00Z", msg.ReceivedAt)

	msg = toFetched(&imap.Message{
		Envelope:     &imap.Envelope{MessageId: "<1@x>", Subject: "NCM"},
		InternalDate: time.Date(2026, 10, 18, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600)),
	}, nil, now)
	assert.Equal(t, "<1@x>", msg.MessageID)
	assert.Equal(t, "2026-10-18T15:00:00Z", msg.ReceivedAt)
}

func TestFetchInboxHonorsCancelledContext(t *testing.T) {
	conn, err := NewConnector(config.Config{IMAPHost: "imap.invalid", IMAPUser: "u", IMAPPassword: "p", IMAPPort: 993}, nil)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conn.FetchInbox(ctx, "INBOX", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchCriteria(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	all := searchCriteria(0, now)
	assert.Equal(t, []string{imap.SeenFlag}, all.WithoutFlags)
	assert.True(t, all.Since.IsZero())

	recent := searchCriteria(72*time.Hour, now)
	assert.Equal(t, time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC), recent.Since)
}

func TestNewConnectorRequiresCredentials(t *testing.T) {
	_, err := NewConnector(config.Config{IMAPHost: "imap.invalid", IMAPUser: "u"}, nil)
	assert.ErrorContains(t, err, "IMAP_PASSWORD")
}
