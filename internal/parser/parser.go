// Package parser 将 RFC 5322 原始邮件解析为规范化的 domain.Message。
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"inboxlens/backend/internal/domain"
)

const (
	// NoSubject 缺少主题时使用的占位文本
	NoSubject = "(No Subject)"
	// UnknownSender 缺少发件人时使用的占位文本
	UnknownSender = "Unknown Sender"

	idSubjectLimit = 20
	idSenderLimit  = 20
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Meta 协议层提供的附加信息
type Meta struct {
	SeqNum       uint32
	MessageID    string    // 协议层（信封）给出的 Message-ID，可为空
	InternalDate time.Time // 服务器记录的接收时间，可为零值
	Now          time.Time // 解析时刻，零值表示使用 time.Now()
}

// Parse 解析原始邮件。
//
// 主题缺失时使用 NoSubject，正文缺失时为空字符串；正文优先取 text/plain，
// 其次取 text/html。返回的错误只影响这一封邮件。
func Parse(raw []byte, meta Meta) (*domain.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		return nil, fmt.Errorf("read message header: %w", err)
	}
	defer mr.Close()

	subject, err := mr.Header.Subject()
	if err != nil || strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	sender := senderOf(mr.Header)

	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}
	headerDate, headerErr := mr.Header.Date()
	date, trusted := ResolveDate(meta.InternalDate, headerDate, headerErr, now)

	textBody, htmlBody, err := readBodies(mr)
	if err != nil {
		return nil, err
	}
	body := textBody
	if strings.TrimSpace(body) == "" {
		body = htmlBody
	}

	messageID := meta.MessageID
	if messageID == "" {
		if id, err := mr.Header.MessageID(); err == nil {
			messageID = id
		}
	}

	identityDate := time.Time{}
	if trusted {
		identityDate = date
	}

	return &domain.Message{
		ID:      DeriveID(messageID, meta.SeqNum, subject, identityDate, sender),
		Sender:  sender,
		Subject: subject,
		Body:    body,
		Date:    date,
	}, nil
}

// ResolveDate 按优先级确定接收时间：服务器内部时间 > 邮件头 Date > 当前时间。
//
// 第二个返回值表示时间是否来自邮件本身（非回退到当前时间）。
func ResolveDate(internal, header time.Time, headerErr error, now time.Time) (time.Time, bool) {
	if !internal.IsZero() {
		return internal, true
	}
	if headerErr == nil && !header.IsZero() {
		return header, true
	}
	return now, false
}

// DeriveID 计算邮件标识。
//
// 优先使用协议提供的 Message-ID；否则由序号、截断主题、接收时间（毫秒）
// 与截断发件人拼接，并清洗为 [A-Za-z0-9_-]。
func DeriveID(messageID string, seqNum uint32, subject string, date time.Time, sender string) string {
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if messageID != "" {
		return messageID
	}

	var epoch int64
	if !date.IsZero() {
		epoch = date.UnixMilli()
	}

	composite := strings.Join([]string{
		strconv.FormatUint(uint64(seqNum), 10),
		truncateRunes(subject, idSubjectLimit),
		strconv.FormatInt(epoch, 10),
		truncateRunes(sender, idSenderLimit),
	}, "_")

	return unsafeIDChars.ReplaceAllString(composite, "_")
}

// senderOf 提取发件人显示名，没有显示名时使用地址
func senderOf(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		if name := strings.TrimSpace(addrs[0].Name); name != "" {
			return name
		}
		if addrs[0].Address != "" {
			return addrs[0].Address
		}
	}

	if raw, err := h.Text("From"); err == nil && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	return UnknownSender
}

// readBodies 遍历 MIME 结构，收集第一个 text/plain 与 text/html 正文
func readBodies(mr *mail.Reader) (textBody, htmlBody string, err error) {
	for {
		part, nextErr := mr.NextPart()
		if nextErr == io.EOF {
			break
		}
		if nextErr != nil {
			if message.IsUnknownCharset(nextErr) || message.IsUnknownEncoding(nextErr) {
				continue
			}
			// 已经拿到正文时，尾部结构损坏不影响结果
			if textBody != "" || htmlBody != "" {
				break
			}
			return "", "", fmt.Errorf("read message part: %w", nextErr)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, ctErr := inline.ContentType()
		if ctErr != nil || contentType == "" {
			contentType = "text/plain"
		}

		data, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(data)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(data)
		}
	}

	return textBody, htmlBody, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
