package utils

import (
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/DusanKasan/parsemail"

	"talentmail/internal/utils/logger"
)

var parseLog = logger.New("MAIL_PARSER")

// ParsedMail is the subset of an inbound message the importer keeps
type ParsedMail struct {
	Subject   string
	MessageID string
	From      []*mail.Address
	Date      time.Time
	BodyText  string
	BodyHTML  string
}

// ParseEmail parses a raw RFC 822 message. BodyText is the first text/plain
// part; Date stays zero when the header is missing or malformed.
func ParseEmail(emailReader io.Reader) (*ParsedMail, error) {
	msg, err := parsemail.Parse(emailReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read email message: %w", err)
	}

	parsed := &ParsedMail{
		Subject:   msg.Subject,
		MessageID: msg.Header.Get("Message-ID"),
		BodyText:  msg.TextBody,
		BodyHTML:  msg.HTMLBody,
	}
	if parsed.Subject == "" {
		parsed.Subject = msg.Header.Get("Subject")
	}

	if dateStr := msg.Header.Get("Date"); dateStr != "" {
		date, err := mail.ParseDate(dateStr)
		if err != nil {
			parseLog.Warn("failed to parse date %q: %v", dateStr, err)
		} else {
			parsed.Date = date
		}
	}

	if fromStr := msg.Header.Get("From"); fromStr != "" {
		from, err := mail.ParseAddressList(fromStr)
		if err != nil {
			parseLog.Warn("failed to parse From %q: %v", fromStr, err)
		} else {
			parsed.From = from
		}
	}

	return parsed, nil
}

// FormatAddresses joins addresses for display
func FormatAddresses(addrs []*mail.Address) string {
	if len(addrs) == 0 {
		return "N/A"
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}
