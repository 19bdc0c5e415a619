package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// AuthError is returned when the server rejects the account credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IMAPDialer connects to an IMAP server over implicit TLS.
type IMAPDialer struct {
	addr      string
	username  string
	password  string
	tlsConfig *tls.Config
}

// NewIMAPDialer creates a dialer for addr (host:port) using the given account.
func NewIMAPDialer(addr, username, password string, tlsConfig *tls.Config) *IMAPDialer {
	return &IMAPDialer{
		addr:      addr,
		username:  username,
		password:  password,
		tlsConfig: tlsConfig,
	}
}

// Dial establishes a TLS connection and logs in. The caller owns the returned
// session and must call Logout.
func (d *IMAPDialer) Dial(ctx context.Context) (Session, error) {
	dialer := &tls.Dialer{Config: d.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", d.addr, err)
	}

	client := imapclient.New(conn, nil)

	if err := client.Login(d.username, d.password).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{Username: d.username, Err: err}
	}

	return &imapSession{client: client}, nil
}

// imapSession adapts an imapclient.Client to Session.
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Select(ctx context.Context, mailbox string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.Select(mailbox, nil).Wait()
	return err
}

func (s *imapSession) SearchUnseenFrom(ctx context.Context, sender string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: sender},
		},
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}

	all := data.AllUIDs()
	uids := make([]uint32, 0, len(all))
	for _, uid := range all {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func (s *imapSession) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d returned no body", uid)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return raw, nil
}

func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	return storeCmd.Close()
}

func (s *imapSession) Logout() error {
	logoutErr := s.client.Logout().Wait()
	closeErr := s.client.Close()
	if logoutErr != nil {
		return logoutErr
	}
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return closeErr
	}
	return nil
}
