package ingestion

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ErrNoToken is returned when no OAuth token is cached and the handler may
// not prompt for one
var ErrNoToken = errors.New("gmail token not found")

// GmailConfig locates the OAuth client credentials and cached token
type GmailConfig struct {
	CredentialsPath string
	TokenPath       string

	// Interactive allows prompting on Prompt/Answer for a new token
	Interactive bool
	Prompt      io.Writer
	Answer      io.Reader
}

// Attachment is one CV-like file pulled from the inbox
type Attachment struct {
	MessageID  string
	Filename   string
	Data       []byte
	From       string
	ReceivedAt time.Time
}

// InboxHandler downloads CV attachments from a recruiter Gmail inbox
type InboxHandler struct {
	service *gmail.Service
	user    string
	address string
}

// NewInboxHandler authenticates against Gmail using cached OAuth credentials
func NewInboxHandler(ctx context.Context, cfg GmailConfig) (*InboxHandler, error) {
	b, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(ctx, config, cfg)
	if err != nil {
		return nil, err
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail client: %w", err)
	}

	return NewInboxHandlerWithService(ctx, srv)
}

// NewInboxHandlerWithService wraps an existing Gmail service and resolves the
// inbox address
func NewInboxHandlerWithService(ctx context.Context, srv *gmail.Service) (*InboxHandler, error) {
	h := &InboxHandler{service: srv, user: "me"}
	profile, err := srv.Users.GetProfile(h.user).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read Gmail profile: %w", err)
	}
	h.address = strings.ToLower(profile.EmailAddress)
	return h, nil
}

// Address is the inbox email address, used as the records' source email
func (h *InboxHandler) Address() string {
	return h.address
}

// getClient loads the cached token, or obtains one interactively when allowed
func getClient(ctx context.Context, config *oauth2.Config, cfg GmailConfig) (*http.Client, error) {
	tok, err := tokenFromFile(cfg.TokenPath)
	if err != nil {
		if !cfg.Interactive {
			return nil, fmt.Errorf("%w at %s: run the fetch command interactively once", ErrNoToken, cfg.TokenPath)
		}
		tok, err = getTokenFromWeb(ctx, config, cfg.Prompt, cfg.Answer)
		if err != nil {
			return nil, err
		}
		if err := saveToken(cfg.TokenPath, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

// getTokenFromWeb asks the user to authorize and paste the code
func getTokenFromWeb(ctx context.Context, config *oauth2.Config, prompt io.Writer, answer io.Reader) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(prompt, "Go to the following link in your browser then type the authorization code: \n%v\n", authURL)

	authCode, err := bufio.NewReader(answer).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	log.Info().Str("path", path).Msg("Saving Gmail credential file")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	return nil
}

// FetchAttachments calls sink for every supported attachment in messages
// matching query. A failing message or attachment is logged and skipped; a
// sink error stops the fetch.
func (h *InboxHandler) FetchAttachments(ctx context.Context, query string, sink func(Attachment) error) (int, error) {
	if !strings.Contains(query, "has:attachment") {
		query = strings.TrimSpace(query + " has:attachment")
	}

	count := 0
	err := h.service.Users.Messages.List(h.user).Q(query).Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, msg := range page.Messages {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := h.fetchMessage(ctx, msg.Id, sink)
			count += n
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("unable to retrieve messages: %w", err)
	}
	return count, nil
}

func (h *InboxHandler) fetchMessage(ctx context.Context, id string, sink func(Attachment) error) (int, error) {
	message, err := h.service.Users.Messages.Get(h.user, id).Context(ctx).Do()
	if err != nil {
		log.Warn().Err(err).Str("message_id", id).Msg("Unable to retrieve message")
		return 0, nil
	}

	from := senderAddress(message)
	received := time.UnixMilli(message.InternalDate).UTC()

	count := 0
	for _, part := range attachmentParts(message.Payload) {
		if !IsSupported(part.Filename) {
			continue
		}
		attachment, err := h.service.Users.Messages.Attachments.Get(h.user, id, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			log.Warn().Err(err).Str("message_id", id).Str("file", part.Filename).Msg("Unable to retrieve attachment")
			continue
		}

		data, err := decodeAttachment(attachment.Data)
		if err != nil {
			log.Warn().Err(err).Str("message_id", id).Str("file", part.Filename).Msg("Unable to decode attachment")
			continue
		}

		if err := sink(Attachment{
			MessageID:  id,
			Filename:   part.Filename,
			Data:       data,
			From:       from,
			ReceivedAt: received,
		}); err != nil {
			return count, err
		}
		count++
		log.Debug().Str("file", part.Filename).Str("from", from).Msg("Downloaded attachment")
	}
	return count, nil
}

// attachmentParts walks nested multipart payloads
func attachmentParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}
	var out []*gmail.MessagePart
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		out = append(out, part)
	}
	for _, child := range part.Parts {
		out = append(out, attachmentParts(child)...)
	}
	return out
}

// senderAddress extracts the sender's email from the From header
func senderAddress(message *gmail.Message) string {
	if message.Payload == nil {
		return ""
	}
	for _, header := range message.Payload.Headers {
		if !strings.EqualFold(header.Name, "From") {
			continue
		}
		if addr, err := mail.ParseAddress(header.Value); err == nil {
			return strings.ToLower(addr.Address)
		}
		return strings.TrimSpace(header.Value)
	}
	return ""
}

func decodeAttachment(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
