package mailbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// IMAPConfig holds connection settings for an IMAP mailbox.
type IMAPConfig struct {
	Server     string
	Port       int
	Username   string
	Password   string
	Forwarders []string
	Timeout    time.Duration
}

// IMAPClient fetches forwarded messages from a Gmail-style IMAP inbox.
type IMAPClient struct {
	cfg  IMAPConfig
	conn *client.Client
}

// DialIMAP connects and authenticates. Connection or auth failure is fatal
// for the run: the caller aborts rather than retrying.
func DialIMAP(cfg IMAPConfig) (*IMAPClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: dial %s", addr)
	}
	conn.Timeout = cfg.Timeout

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		_ = conn.Logout()
		return nil, eris.Wrap(err, "mailbox: login")
	}

	return &IMAPClient{cfg: cfg, conn: conn}, nil
}

// Fetch lists messages from each configured forwarder received on or after
// since, and downloads the full RFC822 body for each. A search failure for
// one forwarder is logged and skipped; the remaining forwarders are still
// queried.
func (c *IMAPClient) Fetch(ctx context.Context, since time.Time) ([]RawMessage, error) {
	if _, err := c.conn.Select("INBOX", true); err != nil {
		return nil, eris.Wrap(err, "mailbox: select inbox")
	}

	var out []RawMessage
	for _, forwarder := range c.cfg.Forwarders {
		if ctx.Err() != nil {
			return out, eris.Wrap(ctx.Err(), "mailbox: fetch cancelled")
		}

		criteria := imap.NewSearchCriteria()
		criteria.Since = since
		criteria.Header.Add("From", forwarder)

		ids, err := c.conn.Search(criteria)
		if err != nil {
			zap.L().Warn("mailbox: search failed for forwarder",
				zap.String("forwarder", forwarder),
				zap.Error(err),
			)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		zap.L().Info("mailbox: found messages",
			zap.String("forwarder", forwarder),
			zap.Int("count", len(ids)),
		)

		msgs, err := c.download(ids, forwarder)
		if err != nil {
			zap.L().Warn("mailbox: fetch failed for forwarder",
				zap.String("forwarder", forwarder),
				zap.Error(err),
			)
			continue
		}
		out = append(out, msgs...)
	}

	return out, nil
}

func (c *IMAPClient) download(ids []uint32, forwarder string) ([]RawMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.Fetch(seqset, items, ch)
	}()

	var out []RawMessage
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			zap.L().Warn("mailbox: read message body", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		out = append(out, RawMessage{
			UID:       msg.Uid,
			Forwarder: forwarder,
			Raw:       raw,
		})
	}

	if err := <-done; err != nil {
		return out, eris.Wrap(err, "mailbox: fetch messages")
	}
	return out, nil
}

// Close logs out of the IMAP session.
func (c *IMAPClient) Close() error {
	return c.conn.Logout()
}
