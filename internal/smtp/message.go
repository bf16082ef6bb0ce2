package smtp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"inboxlens/backend/internal/domain"
)

// BuildMessage 生成单部分 HTML 邮件（RFC 5322），Message-ID 使用发件人域名
func BuildMessage(from string, out domain.OutgoingMail, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: out.To}})
	if out.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: out.ReplyTo}})
	}
	h.SetSubject(out.Subject)
	h.SetMessageID(uuid.NewString() + "@" + hostOf(from))
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, out.HTMLBody); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return buf.Bytes(), nil
}

func hostOf(address string) string {
	if _, host, ok := strings.Cut(address, "@"); ok && host != "" {
		return host
	}
	return "localhost"
}
