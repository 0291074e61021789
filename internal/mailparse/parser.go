package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

// MaxBodyBytes caps a text or HTML body. Longer bodies are cut and the
// message is marked Truncated.
const MaxBodyBytes = 1 << 20

const maxAttachmentBytes = 25 << 20

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Message is the decoded form of one inbound email.
type Message struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
	// Truncated is set when a text or HTML body exceeded MaxBodyBytes.
	Truncated bool
}

// Attachment is one non-inline MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Body returns the plain-text body, or the HTML body reduced to text when
// the message has no usable plain part.
func (m *Message) Body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if m.HTML != "" {
		return StripHTML(m.HTML)
	}
	return ""
}

// ParseError reports input that is not a readable RFC 5322 message.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a raw message. Missing headers or bodies yield empty
// fields; only structurally broken input is an error.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Err: errors.New("empty message")}
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, &ParseError{Err: err}
	}
	defer reader.Close()

	msg := &Message{
		From:    fromAddress(&reader.Header),
		Subject: subject(&reader.Header),
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		// An unknown charset still yields the part with its raw bytes.
		if err != nil && !(gomessage.IsUnknownCharset(err) && part != nil) {
			if msg.Text == "" && msg.HTML == "" && len(msg.Attachments) == 0 {
				return nil, &ParseError{Err: err}
			}
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mimeType, _, ctErr := header.ContentType()
			if ctErr != nil || mimeType == "" {
				mimeType = "text/plain"
			}
			body, readErr := io.ReadAll(io.LimitReader(part.Body, MaxBodyBytes+1))
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mimeType, "text/html"):
				if msg.HTML == "" {
					msg.HTML = msg.limitText(body)
				}
			case strings.HasPrefix(mimeType, "text/"):
				if msg.Text == "" {
					msg.Text = msg.limitText(body)
				}
			default:
				if att := readAttachment(part.Body, body, "", mimeType); att != nil {
					msg.Attachments = append(msg.Attachments, *att)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			mimeType, _, _ := header.ContentType()
			data, readErr := io.ReadAll(io.LimitReader(part.Body, maxAttachmentBytes))
			if readErr != nil || len(data) == 0 {
				continue
			}
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: strings.ToLower(mimeType),
				Data:        data,
			})
		}
	}

	msg.Text = normalizeNewlines(msg.Text)
	return msg, nil
}

// limitText cuts body to MaxBodyBytes on a rune boundary and records the cut.
func (m *Message) limitText(body []byte) string {
	if len(body) <= MaxBodyBytes {
		return string(body)
	}
	m.Truncated = true
	n := MaxBodyBytes
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n])
}

// readAttachment keeps inline non-text parts such as embedded images.
func readAttachment(rest io.Reader, head []byte, filename, mimeType string) *Attachment {
	tail, err := io.ReadAll(io.LimitReader(rest, maxAttachmentBytes-int64(len(head))))
	if err != nil {
		return nil
	}
	data := append(head, tail...)
	if len(data) == 0 {
		return nil
	}
	return &Attachment{Filename: filename, ContentType: strings.ToLower(mimeType), Data: data}
}

func subject(header *mail.Header) string {
	s, err := header.Subject()
	if err != nil {
		return strings.TrimSpace(header.Get("Subject"))
	}
	return strings.TrimSpace(s)
}

func fromAddress(header *mail.Header) string {
	list, err := header.AddressList("From")
	if err == nil && len(list) > 0 {
		return strings.ToLower(strings.TrimSpace(list[0].Address))
	}
	return ""
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
